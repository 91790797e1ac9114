// Package server exposes the record lookups, the carrier list, and account
// endpoints over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
)

// Lookup fetches and parses source records.
type Lookup interface {
	Carrier(ctx context.Context, mc string, useProxy bool) (*model.Carrier, error)
	Safety(ctx context.Context, dot string) (*model.SafetyRecord, error)
	Insurance(ctx context.Context, dot string) (*parser.InsuranceResult, error)
}

// Carriers lists persisted carriers.
type Carriers interface {
	ListCarriers(ctx context.Context) ([]model.Carrier, error)
}

// Blocklist reports whether a client IP is refused.
type Blocklist interface {
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// Accounts registers and authenticates users.
type Accounts interface {
	Register(ctx context.Context, name, email, password, ip string) (*model.User, error)
	Login(ctx context.Context, email, password, ip string) (*model.User, error)
}

// Deps are the collaborators a Server routes to. Carriers, Blocklist and
// Accounts are optional; their routes or checks are skipped when nil.
type Deps struct {
	Lookup      Lookup
	Carriers    Carriers
	Blocklist   Blocklist
	Accounts    Accounts
	CORSOrigins []string
}

// Server is the HTTP front end.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Server{deps: deps}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scrape", func(r chi.Router) {
			r.Use(s.rejectBlocked)
			r.Get("/carrier/{mc}", s.handleCarrier)
			r.Get("/safety/{dot}", s.handleSafety)
			r.Get("/insurance/{dot}", s.handleInsurance)
		})
		if s.deps.Carriers != nil {
			r.Get("/carriers", s.handleListCarriers)
		}
		if s.deps.Accounts != nil {
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
		}
	})
	return r
}

// ListenAndServe serves Routes on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
