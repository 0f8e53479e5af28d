package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seantiz/reportwatch/internal/analytics"
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/transport"
)

const governanceBody = `{
	"website_url": "https://example.com",
	"location": {"city": "Austin", "region": "TX", "country": "US"},
	"business_type": "dental",
	"intent": "governance"
}`

const seoBody = `{
	"website_url": "https://example.com",
	"location": {"city": "Austin", "region": "TX", "country": "US"},
	"business_type": "dental",
	"intent": "seo",
	"competitors": ["https://a.example", "https://b.example"]
}`

func TestSubmitGovernance(t *testing.T) {
	env := newTestEnv(t)
	env.reports.respondWith("job-gov")
	env.jobs.set("job-gov", processing(0.5), complete())
	accepted := reportSubmissions.WithLabelValues(string(model.KindGovernance), submitAccepted)
	before := testutil.ToFloat64(accepted)

	resp := env.do(t, http.MethodPost, "/v1/reports/governance", governanceBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := testutil.ToFloat64(accepted) - before; got != 1 {
		t.Errorf("accepted submissions grew by %v, want 1", got)
	}

	got := decodeJSON[submitResponse](t, resp)
	if got.JobID != "job-gov" {
		t.Errorf("job_id = %q, want job-gov", got.JobID)
	}
	if got.Watch.Kind != model.KindGovernance {
		t.Errorf("watch kind = %q, want governance", got.Watch.Kind)
	}
	if got.Watch.Snapshot.Subject != "job-gov" {
		t.Errorf("watch subject = %q, want job-gov", got.Watch.Snapshot.Subject)
	}

	start := env.events.waitFor(t, analytics.EventReportGenerationStart)
	if start.Properties["url"] != "https://example.com" {
		t.Errorf("start url = %v", start.Properties["url"])
	}

	env.waitPhase(t, got.Watch.ID, model.PhaseComplete)
	env.events.waitFor(t, analytics.EventReportGenerationComplete)
}

func TestSubmitSEO(t *testing.T) {
	env := newTestEnv(t)
	env.reports.respondWith("job-seo")
	env.jobs.set("job-seo", complete())

	resp := env.do(t, http.MethodPost, "/v1/reports/seo", seoBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	got := decodeJSON[submitResponse](t, resp)
	if got.Watch.Kind != model.KindSEO {
		t.Errorf("watch kind = %q, want seo", got.Watch.Kind)
	}

	start := env.events.waitFor(t, analytics.EventSEOReportStart)
	if n, _ := start.Properties["competitors"].(int); n != 2 {
		t.Errorf("competitors = %v, want 2", start.Properties["competitors"])
	}
	env.events.waitFor(t, analytics.EventSEOReportComplete)

	if _, seo := env.reports.submitted(); seo != 1 {
		t.Errorf("upstream got %d SEO submissions, want 1", seo)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"invalid json", "/v1/reports/governance", `{`},
		{"bad url", "/v1/reports/governance", `{"website_url":"ftp://x","business_type":"dental","intent":"seo"}`},
		{"bad business type", "/v1/reports/governance", `{"website_url":"https://x.example","business_type":"bakery","intent":"seo"}`},
		{"too few competitors", "/v1/reports/seo", `{"website_url":"https://x.example","business_type":"dental","intent":"seo","competitors":["https://a.example"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if gov, seo := env.reports.submitted(); gov != 0 || seo != 0 {
		t.Error("invalid requests reached the upstream API")
	}
}

func TestSubmitUpstreamAPIError(t *testing.T) {
	env := newTestEnv(t)
	env.reports.fail(&transport.APIError{Status: http.StatusUnprocessableEntity, Body: "website unreachable"})

	resp := env.do(t, http.MethodPost, "/v1/reports/governance", governanceBody)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeJSON[map[string]string](t, resp)
	if body["error"] != "website unreachable" {
		t.Errorf("error = %q, want upstream body", body["error"])
	}

	failed := env.events.waitFor(t, analytics.EventReportGenerationFailed)
	if failed.Properties["error_type"] != transport.ErrorTypeAPI {
		t.Errorf("error_type = %v, want %s", failed.Properties["error_type"], transport.ErrorTypeAPI)
	}
	if failed.Properties["status"] != http.StatusUnprocessableEntity {
		t.Errorf("status = %v, want 422", failed.Properties["status"])
	}
	if len(env.srv.watches.List()) != 0 {
		t.Error("failed submission started a watch")
	}
}

func TestSubmitUpstreamNetworkError(t *testing.T) {
	env := newTestEnv(t)
	env.reports.fail(errors.New("dial tcp: connection refused"))

	resp := env.do(t, http.MethodPost, "/v1/reports/seo", seoBody)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeJSON[map[string]string](t, resp)
	if body["error"] != networkErrorMessage {
		t.Errorf("error = %q, want %q", body["error"], networkErrorMessage)
	}

	failed := env.events.waitFor(t, analytics.EventReportGenerationFailed)
	if failed.Properties["error_type"] != transport.ErrorTypeNetwork {
		t.Errorf("error_type = %v, want %s", failed.Properties["error_type"], transport.ErrorTypeNetwork)
	}
}

func TestSuggestCompetitors(t *testing.T) {
	env := newTestEnv(t)
	rating := 4.5
	env.reports.suggest(model.SuggestCompetitorsResponse{
		Suggestions: []model.CompetitorSuggestion{{Name: "Bright Smiles", Address: "1 Main St", Rating: &rating}},
	}, nil)

	resp := env.do(t, http.MethodGet, "/v1/competitors/suggest?business_type=dental&city=Austin&region=TX&country=US", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJSON[model.SuggestCompetitorsResponse](t, resp)
	if len(got.Suggestions) != 1 || got.Suggestions[0].Name != "Bright Smiles" {
		t.Errorf("suggestions = %+v", got.Suggestions)
	}
}

func TestSuggestCompetitorsFailureIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.reports.suggest(model.SuggestCompetitorsResponse{}, errors.New("upstream down"))

	resp := env.do(t, http.MethodGet, "/v1/competitors/suggest?business_type=dental&city=Austin", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJSON[model.SuggestCompetitorsResponse](t, resp)
	if got.Suggestions == nil || len(got.Suggestions) != 0 {
		t.Errorf("suggestions = %v, want empty list", got.Suggestions)
	}
	if got.UserPlace != nil {
		t.Errorf("user_place = %+v, want nil", got.UserPlace)
	}
}

func TestSuggestCompetitorsRequiresBusinessType(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/competitors/suggest?city=Austin", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrackEvent(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/analytics/events", `{"event":"tab_switch","properties":{"tab":"seo"}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	ev := env.events.waitFor(t, analytics.EventTabSwitch)
	if ev.Properties["tab"] != "seo" {
		t.Errorf("tab = %v, want seo", ev.Properties["tab"])
	}
	if _, ok := ev.Properties["timestamp"]; !ok {
		t.Error("timestamp property missing")
	}
}

func TestTrackEventRejected(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `nope`},
		{"unknown event", `{"event":"page_view"}`},
		{"server event", `{"event":"report_generation_complete"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/analytics/events", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmitWatchesJobAfterClientCancels(t *testing.T) {
	env := newTestEnv(t)
	env.reports.respondWith("job-gone")
	env.jobs.set("job-gone", processing(0.2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/v1/reports/governance", strings.NewReader(governanceBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	views := env.srv.watches.List()
	if len(views) != 1 || views[0].Snapshot.Subject != "job-gone" {
		t.Errorf("live watches = %+v, want one watching job-gone", views)
	}
}
