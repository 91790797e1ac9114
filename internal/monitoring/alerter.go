package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/config"
	"github.com/sells-group/carrier-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertOpenBreaker    AlertType = "open_breaker"
	AlertLowCoverage    AlertType = "low_enrichment_coverage"
	AlertQuotaExhausted AlertType = "quota_exhausted"
)

// minCoverageSample is the carrier count below which coverage is not judged.
const minCoverageSample = 5

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns snapshots into alerts and delivers them.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Evaluate returns the alerts snap triggers, most severe first.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertOpenBreaker,
			Severity: "high",
			Message:  fmt.Sprintf("Fetch strategies unavailable: %s", strings.Join(snap.OpenBreakers, ", ")),
			Details: map[string]any{
				"strategies": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	eligible := snap.Carriers - snap.MissingDOT
	if a.cfg.CoverageThreshold > 0 && eligible >= minCoverageSample && snap.Coverage < a.cfg.CoverageThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLowCoverage,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Enrichment coverage %.1f%% is below threshold %.1f%% (%d carriers with a DOT number)",
				snap.Coverage*100, a.cfg.CoverageThreshold*100, eligible,
			),
			Details: map[string]any{
				"coverage":  snap.Coverage,
				"threshold": a.cfg.CoverageThreshold,
				"eligible":  eligible,
			},
			Timestamp: now,
		})
	}

	if snap.UsersAtLimit > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertQuotaExhausted,
			Severity:  "low",
			Message:   fmt.Sprintf("%d user(s) reached their daily extraction limit", snap.UsersAtLimit),
			Details:   map[string]any{"users_at_limit": snap.UsersAtLimit},
			Timestamp: now,
		})
	}

	return alerts
}

// Notification is the webhook body. One notification carries every alert
// raised by a check.
type Notification struct {
	Source string  `json:"source"`
	Count  int     `json:"count"`
	Alerts []Alert `json:"alerts"`
}

// SendAlerts posts alerts to the webhook as one Notification and returns
// the number delivered. Server errors are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	body, err := json.Marshal(Notification{Source: "carrier-cli", Count: len(alerts), Alerts: alerts})
	if err != nil {
		zap.L().Error("monitoring: marshal notification", zap.Error(err))
		return 0
	}

	retry := resilience.RetryFromAttempts(3, 250*time.Millisecond)
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return a.post(ctx, body)
	}); err != nil {
		zap.L().Error("monitoring: alert delivery failed", zap.Int("alerts", len(alerts)), zap.Error(err))
		return 0
	}
	return len(alerts)
}

func (a *Alerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	_ = resp.Body.Close()

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook rejected alerts with status %d", resp.StatusCode)
	}
	return nil
}
