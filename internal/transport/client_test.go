package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/reportwatch/internal/model"
)

func validGovernanceRequest() model.GovernanceReportRequest {
	return model.GovernanceReportRequest{
		WebsiteURL:   "https://example-clinic.com",
		Location:     model.Location{City: "Tampa", Region: "FL", Country: "US"},
		BusinessType: model.BusinessClinic,
		Intent:       model.IntentGovernance,
	}
}

func validSEORequest() model.SEOReportRequest {
	return model.SEOReportRequest{
		WebsiteURL:   "https://example-clinic.com",
		Location:     model.Location{City: "Tampa", Region: "FL", Country: "US"},
		BusinessType: model.BusinessClinic,
		Intent:       model.IntentSEO,
		Competitors:  []string{"https://a.example.com", "https://b.example.com"},
	}
}

func TestFetchStatus(t *testing.T) {
	var gotPath, gotRequestID, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-Id")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"job_id": "job-1",
			"status": "processing",
			"progress": 0.45,
			"current_step": "analyze",
			"steps_completed": ["url_normalize", "fetch_homepage"],
			"error": null,
			"governance_report": null,
			"seo_report": null
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	payload, err := c.FetchStatus(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, "/api/report/status/job-1", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	_, err = uuid.Parse(gotRequestID)
	assert.NoError(t, err, "X-Request-Id is not a uuid")

	assert.Equal(t, "job-1", payload.JobID)
	assert.Equal(t, "processing", payload.Status)
	assert.Equal(t, 0.45, payload.Progress)
	require.NotNil(t, payload.CurrentStep)
	assert.Equal(t, "analyze", *payload.CurrentStep)
	assert.Equal(t, []string{"url_normalize", "fetch_homepage"}, payload.StepsCompleted)
	assert.Nil(t, payload.Error)
	assert.Nil(t, payload.ResultFor(model.KindSEO))
}

func TestFetchStatusCompleteCarriesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"job_id":"job-1","status":"complete","progress":1,"steps_completed":[],"seo_report":{"gaps":[]}}`)
	}))
	defer srv.Close()

	payload, err := NewClient(srv.URL).FetchStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"gaps":[]}`, string(payload.ResultFor(model.KindSEO)))
}

func TestFetchStatusAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Job not found")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchStatus(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Job not found", apiErr.Body)
	assert.Equal(t, "API Error 404: Job not found", err.Error())
	assert.Equal(t, ErrorTypeAPI, ErrorType(err))
}

func TestFetchStatusMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing status", `{"job_id":"job-1","progress":0.2}`},
		{"progress out of range", `{"job_id":"job-1","status":"processing","progress":1.5}`},
		{"progress wrong type", `{"job_id":"job-1","status":"processing","progress":"half"}`},
		{"steps not strings", `{"job_id":"job-1","status":"processing","progress":0.1,"steps_completed":[1,2]}`},
		{"report not an object", `{"job_id":"job-1","status":"complete","progress":1,"seo_report":"done"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).FetchStatus(context.Background(), "job-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestFetchStatusUnknownStatusPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"job_id":"job-1","status":"paused","progress":0.3}`)
	}))
	defer srv.Close()

	payload, err := NewClient(srv.URL).FetchStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "paused", payload.Status)
}

func TestFetchStatusNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).FetchStatus(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeNetwork, ErrorType(err))
}

func TestFetchStatusEmptyJobID(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1").FetchStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchStatusEscapesJobID(t *testing.T) {
	var gotRawPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		io.WriteString(w, `{"job_id":"a/b","status":"queued","progress":0}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchStatus(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/api/report/status/a%2Fb", gotRawPath)
}

func TestSubmitGovernance(t *testing.T) {
	var got model.GovernanceReportRequest
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"job_id":"gov-1","status":"queued"}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).SubmitGovernance(context.Background(), validGovernanceRequest())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/report/governance", gotPath)
	assert.Equal(t, validGovernanceRequest(), got)
	assert.Equal(t, "gov-1", resp.JobID)
	assert.Equal(t, "queued", resp.Status)
}

func TestSubmitSEO(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/report/seo", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&raw)
		io.WriteString(w, `{"job_id":"seo-1","status":"queued"}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).SubmitSEO(context.Background(), validSEORequest())
	require.NoError(t, err)
	assert.Equal(t, "seo-1", resp.JobID)
	assert.Len(t, raw["competitors"], 2)
	assert.NotContains(t, raw, "governance_job_id")
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	req := validSEORequest()
	req.Competitors = req.Competitors[:1]

	_, err := NewClient(srv.URL).SubmitSEO(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Zero(t, calls.Load())
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"website unreachable"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SubmitGovernance(context.Background(), validGovernanceRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestSubmitMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"queued"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SubmitGovernance(context.Background(), validGovernanceRequest())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSuggestCompetitors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/report/suggest-competitors", r.URL.Path)
		assert.Equal(t, "dental", r.URL.Query().Get("business_type"))
		assert.Equal(t, "Austin", r.URL.Query().Get("city"))
		assert.False(t, r.URL.Query().Has("website_url"))
		io.WriteString(w, `{"suggestions":[{"name":"Smile Co","address":"1 Main St","rating":4.5,"review_count":120,"website_url":"https://smile.example.com"}],"user_place":null}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).SuggestCompetitors(context.Background(), model.SuggestCompetitorsParams{
		BusinessType: "dental",
		City:         "Austin",
		Region:       "TX",
		Country:      "US",
	})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "Smile Co", resp.Suggestions[0].Name)
	require.NotNil(t, resp.Suggestions[0].Rating)
	assert.Equal(t, 4.5, *resp.Suggestions[0].Rating)
	assert.Nil(t, resp.UserPlace)
}

func TestRateLimitSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"job_id":"job-1","status":"queued","progress":0}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(20, 1))
	start := time.Now()
	for range 3 {
		_, err := c.FetchStatus(context.Background(), "job-1")
		require.NoError(t, err)
	}
	// Burst 1 at 20 rps: the second and third calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", WithRateLimit(0.001, 1))
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.FetchStatus(ctx, "job-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedResponse))
}

func TestErrorTypeClassification(t *testing.T) {
	assert.Equal(t, ErrorTypeAPI, ErrorType(&APIError{Status: 500}))
	assert.Equal(t, ErrorTypeNetwork, ErrorType(errors.New("dial tcp: refused")))
}
