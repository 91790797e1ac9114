package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/carrier-cli/internal/auth"
	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/scrape"
	"github.com/sells-group/carrier-cli/internal/store"
)

type fakeLookup struct {
	seenIP string
}

func (f *fakeLookup) Carrier(ctx context.Context, mc string, _ bool) (*model.Carrier, error) {
	f.seenIP = scrape.ClientIP(ctx)
	switch mc {
	case "404":
		return nil, eris.Wrap(parser.ErrNotFound, "mc 404")
	case "500":
		return nil, eris.Wrap(scrape.ErrFetchFailure, "all strategies failed")
	}
	return &model.Carrier{MCNumber: mc, DOTNumber: "2" + mc, LegalName: "Acme"}, nil
}

func (f *fakeLookup) Safety(_ context.Context, dot string) (*model.SafetyRecord, error) {
	if dot == "500" {
		return nil, errors.New("engine down")
	}
	return &model.SafetyRecord{Rating: "SATISFACTORY", RatingDate: "01/02/2020"}, nil
}

func (f *fakeLookup) Insurance(_ context.Context, dot string) (*parser.InsuranceResult, error) {
	return &parser.InsuranceResult{
		Policies: []model.InsurancePolicy{{DOT: dot, Carrier: "ACME INS"}},
		Raw:      json.RawMessage(`[{"name_company":"ACME INS"}]`),
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *fakeLookup) {
	t.Helper()
	st := store.NewMemory()
	lk := &fakeLookup{}
	srv := New(Deps{
		Lookup:    lk,
		Carriers:  st,
		Blocklist: st,
		Accounts:  auth.NewService(st, auth.WithCost(bcrypt.MinCost)),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st, lk
}

func getJSON(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return getJSON(t, req)
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	status, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestScrapeCarrier(t *testing.T) {
	ts, _, lk := newTestServer(t)

	status, body := get(t, ts.URL+"/api/scrape/carrier/1580000")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1580000", body["mcNumber"])
	assert.Equal(t, "127.0.0.1", lk.seenIP)

	status, body = get(t, ts.URL+"/api/scrape/carrier/404")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Carrier not found", body["error"])

	status, body = get(t, ts.URL+"/api/scrape/carrier/500")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to scrape carrier data", body["error"])
	assert.Contains(t, body["details"], "all strategies failed")
}

func TestScrapeSafetyAndInsurance(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := get(t, ts.URL+"/api/scrape/safety/123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SATISFACTORY", body["rating"])

	status, body = get(t, ts.URL+"/api/scrape/safety/500")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "engine down", body["details"])

	status, body = get(t, ts.URL+"/api/scrape/insurance/123")
	assert.Equal(t, http.StatusOK, status)
	policies, ok := body["policies"].([]any)
	require.True(t, ok)
	assert.Len(t, policies, 1)
	assert.NotNil(t, body["raw"])
}

func TestBlockedIPRefused(t *testing.T) {
	ts, st, _ := newTestServer(t)
	require.NoError(t, st.BlockIP(context.Background(), "203.0.113.9", ""))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/scrape/carrier/1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	status, body := getJSON(t, req)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Access denied", body["error"])

	// Health stays reachable.
	req, err = http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	status, _ = getJSON(t, req)
	assert.Equal(t, http.StatusOK, status)
}

func TestListCarriers(t *testing.T) {
	ts, st, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertCarrier(ctx, model.Carrier{MCNumber: "1", DOTNumber: "11", LegalName: "Acme Freight"}))
	require.NoError(t, st.UpsertCarrier(ctx, model.Carrier{MCNumber: "2", DOTNumber: "22", LegalName: "Blue Ridge"}))

	resp, err := http.Get(ts.URL + "/api/carriers?q=acme")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out []model.Carrier
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "Acme Freight", out[0].LegalName)
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return getJSON(t, req)
}

func TestRegisterAndLogin(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := post(t, ts.URL+"/api/auth/register", `{"name":"Dana","email":"dana@example.com","password":"pw123456"}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "dana@example.com", body["email"])
	assert.Equal(t, "Free", body["plan"])
	assert.NotContains(t, body, "PasswordHash")

	status, _ = post(t, ts.URL+"/api/auth/register", `{"name":"Dana","email":"DANA@example.com","password":"x"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = post(t, ts.URL+"/api/auth/register", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = post(t, ts.URL+"/api/auth/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = post(t, ts.URL+"/api/auth/login", `{"email":"dana@example.com","password":"pw123456"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isOnline"])

	status, body = post(t, ts.URL+"/api/auth/login", `{"email":"dana@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(Deps{Lookup: &fakeLookup{}})
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
