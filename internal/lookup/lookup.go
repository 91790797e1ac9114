// Package lookup retrieves carrier, safety, and insurance records by joining
// the fetch gateway with the record parsers.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/scrape"
)

// Fetcher is the gateway capability used by Service.
type Fetcher interface {
	Fetch(ctx context.Context, req scrape.Request) (*scrape.Payload, error)
}

// Sources holds the record-source URL templates, each taking one %s.
type Sources struct {
	CarrierURL      string
	RegistrationURL string
	SafetyURL       string
	InsuranceURL    string
}

// Options configures a Service.
type Options struct {
	Sources Sources
	// AllowDirect permits direct fetches of source URLs.
	AllowDirect bool
	// PreferDirect skips the backend proxy.
	PreferDirect bool
	// EmailTimeout bounds the registration-page email lookup.
	EmailTimeout time.Duration
}

// Service looks up records through a Fetcher.
type Service struct {
	fetch Fetcher
	opts  Options
}

// New creates a lookup Service.
func New(f Fetcher, opts Options) *Service {
	if opts.EmailTimeout <= 0 {
		opts.EmailTimeout = 10 * time.Second
	}
	return &Service{fetch: f, opts: opts}
}

func sourceURL(tmpl, id string) string {
	if tmpl == "" {
		return ""
	}
	return fmt.Sprintf(tmpl, id)
}

// Carrier looks up the carrier registered under mc. When useProxy is set the
// direct fetch is skipped in favor of the relays. The contact email is
// looked up from the registration page when the record has a DOT number.
// It returns an error wrapping parser.ErrNotFound for unknown MC numbers
// and scrape.ErrFetchFailure when every strategy failed.
func (s *Service) Carrier(ctx context.Context, mc string, useProxy bool) (*model.Carrier, error) {
	payload, err := s.fetch.Fetch(ctx, scrape.Request{
		Kind:         scrape.KindCarrier,
		ID:           mc,
		SourceURL:    sourceURL(s.opts.Sources.CarrierURL, mc),
		PreferDirect: s.opts.PreferDirect,
		AllowDirect:  s.opts.AllowDirect && !useProxy,
	})
	if err != nil {
		return nil, err
	}

	var carrier *model.Carrier
	if payload.Parsed {
		carrier = &model.Carrier{}
		if err := json.Unmarshal(payload.Body, carrier); err != nil {
			return nil, eris.Wrap(err, "lookup: decode backend carrier")
		}
		if carrier.MCNumber == "" {
			carrier.MCNumber = mc
		}
		if carrier.ScrapedAt.IsZero() {
			carrier.ScrapedAt = time.Now().UTC()
		}
	} else {
		carrier, err = parser.ParseCarrier(payload.Text(), mc)
		if err != nil {
			return nil, err
		}
	}

	if carrier.Email == "" && carrier.HasValidDOT() {
		carrier.Email = s.Email(ctx, carrier.DOTNumber, useProxy)
	}
	return carrier, nil
}

// Email returns the contact email from the DOT registration page, or ""
// when it cannot be found. Failures are logged, not returned.
func (s *Service) Email(ctx context.Context, dot string, useProxy bool) string {
	if !model.ValidDOT(dot) || s.opts.Sources.RegistrationURL == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.EmailTimeout)
	defer cancel()

	payload, err := s.fetch.Fetch(ctx, scrape.Request{
		Kind:        scrape.KindRegistration,
		ID:          dot,
		SourceURL:   sourceURL(s.opts.Sources.RegistrationURL, dot),
		AllowDirect: s.opts.AllowDirect && !useProxy,
	})
	if err != nil {
		zap.L().Debug("lookup: registration fetch failed", zap.String("dot", dot), zap.Error(err))
		return ""
	}
	email, err := parser.ParseRegistrationEmail(payload.Text())
	if err != nil {
		zap.L().Debug("lookup: registration parse failed", zap.String("dot", dot), zap.Error(err))
		return ""
	}
	return email
}

// Safety looks up the SMS safety profile for dot.
func (s *Service) Safety(ctx context.Context, dot string) (*model.SafetyRecord, error) {
	payload, err := s.fetch.Fetch(ctx, scrape.Request{
		Kind:         scrape.KindSafety,
		ID:           dot,
		SourceURL:    sourceURL(s.opts.Sources.SafetyURL, dot),
		PreferDirect: s.opts.PreferDirect,
		AllowDirect:  s.opts.AllowDirect,
	})
	if err != nil {
		return nil, err
	}

	if payload.Parsed {
		var rec model.SafetyRecord
		if err := json.Unmarshal(payload.Body, &rec); err != nil {
			return nil, eris.Wrap(err, "lookup: decode backend safety")
		}
		if rec.Rating == "" {
			rec.Rating = model.NotAvailable
		}
		if rec.RatingDate == "" {
			rec.RatingDate = model.NotAvailable
		}
		return &rec, nil
	}
	if payload.IsJSON() {
		return nil, eris.Errorf("lookup: safety source for %s returned JSON, want HTML", dot)
	}
	return parser.ParseSafety(payload.Text())
}

// Insurance looks up the insurance filings for dot.
func (s *Service) Insurance(ctx context.Context, dot string) (*parser.InsuranceResult, error) {
	payload, err := s.fetch.Fetch(ctx, scrape.Request{
		Kind:         scrape.KindInsurance,
		ID:           dot,
		SourceURL:    sourceURL(s.opts.Sources.InsuranceURL, dot),
		PreferDirect: s.opts.PreferDirect,
		// Insurance falls back from the backend to the relays only. The
		// backend itself (PreferDirect) fetches the source directly.
		AllowDirect: s.opts.AllowDirect && s.opts.PreferDirect,
	})
	if err != nil {
		return nil, err
	}

	if payload.Parsed {
		var res parser.InsuranceResult
		if err := json.Unmarshal(payload.Body, &res); err != nil {
			return nil, eris.Wrap(err, "lookup: decode backend insurance")
		}
		if res.Policies == nil {
			res.Policies = []model.InsurancePolicy{}
		}
		return &res, nil
	}
	if !payload.IsJSON() {
		return nil, eris.Errorf("lookup: insurance source for %s did not return JSON", dot)
	}
	policies, err := parser.ParseInsurance(payload.Body, dot)
	if err != nil {
		return nil, err
	}
	return &parser.InsuranceResult{Policies: policies, Raw: json.RawMessage(payload.Body)}, nil
}
