package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/auth"
	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/scrape"
	"github.com/sells-group/carrier-cli/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "FMCSA Scraper Backend is running",
	})
}

func (s *Server) handleCarrier(w http.ResponseWriter, r *http.Request) {
	mc := strings.TrimSpace(chi.URLParam(r, "mc"))
	c, err := s.deps.Lookup.Carrier(r.Context(), mc, false)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, c)
	case eris.Is(err, parser.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Carrier not found"})
	case eris.Is(err, scrape.ErrBlockedIP):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access denied"})
	default:
		zap.L().Error("server: carrier scrape failed", zap.String("mc", mc), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to scrape carrier data", err)
	}
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	dot := strings.TrimSpace(chi.URLParam(r, "dot"))
	rec, err := s.deps.Lookup.Safety(r.Context(), dot)
	if err != nil {
		zap.L().Error("server: safety scrape failed", zap.String("dot", dot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to scrape safety data", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInsurance(w http.ResponseWriter, r *http.Request) {
	dot := strings.TrimSpace(chi.URLParam(r, "dot"))
	res, err := s.deps.Lookup.Insurance(r.Context(), dot)
	if err != nil {
		zap.L().Error("server: insurance scrape failed", zap.String("dot", dot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to scrape insurance data", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListCarriers(w http.ResponseWriter, r *http.Request) {
	carriers, err := s.deps.Carriers.ListCarriers(r.Context())
	if err != nil {
		zap.L().Error("server: list carriers failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list carriers", err)
		return
	}
	out := model.SearchCarriers(carriers, r.URL.Query().Get("q"))
	if out == nil {
		out = []model.Carrier{}
	}
	writeJSON(w, http.StatusOK, out)
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return c, false
	}
	return c, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	u, err := s.deps.Accounts.Register(r.Context(), c.Name, c.Email, c.Password, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, u)
	case eris.Is(err, auth.ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name, email and password are required"})
	case eris.Is(err, store.ErrDuplicateEmail):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Email already registered"})
	default:
		zap.L().Error("server: register failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Registration failed", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	u, err := s.deps.Accounts.Login(r.Context(), c.Email, c.Password, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, u)
	case eris.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	default:
		zap.L().Error("server: login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Login failed", err)
	}
}
