package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/seantiz/reportwatch/internal/analytics"
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/transport"
)

const networkErrorMessage = "Network error. Please check your connection and try again."

// submitResponse is returned by the report submission endpoints.
type submitResponse struct {
	JobID  string        `json:"job_id"`
	Status string        `json:"status"`
	Watch  watchResponse `json:"watch"`
}

// trackEventRequest is the JSON body for POST /v1/analytics/events.
type trackEventRequest struct {
	Event      string               `json:"event"`
	Properties analytics.Properties `json:"properties"`
}

// clientEvents are the events a UI may report. Lifecycle events are emitted
// by the gateway itself.
var clientEvents = map[analytics.EventName]bool{
	analytics.EventCTAClick:       true,
	analytics.EventTabSwitch:      true,
	analytics.EventEvidenceExpand: true,
}

func (s *Server) handleSubmitGovernance(w http.ResponseWriter, r *http.Request) {
	var req model.GovernanceReportRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.track(analytics.EventReportGenerationStart, analytics.Properties{"url": req.WebsiteURL})
	s.submit(w, r, model.KindGovernance, func(ctx context.Context) (model.JobCreateResponse, error) {
		return s.reports.SubmitGovernance(ctx, req)
	})
}

func (s *Server) handleSubmitSEO(w http.ResponseWriter, r *http.Request) {
	var req model.SEOReportRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.track(analytics.EventSEOReportStart, analytics.Properties{"competitors": len(req.Competitors)})
	s.submit(w, r, model.KindSEO, func(ctx context.Context) (model.JobCreateResponse, error) {
		return s.reports.SubmitSEO(ctx, req)
	})
}

// submit sends a validated request upstream and starts watching the job it
// created.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind model.ReportKind, send func(context.Context) (model.JobCreateResponse, error)) {
	job, err := send(r.Context())
	if err != nil {
		s.logger.Warn("report submission failed", "kind", kind, "error", err)

		var apiErr *transport.APIError
		if errors.As(err, &apiErr) {
			reportSubmissions.WithLabelValues(string(kind), submitRejected).Inc()
			s.track(analytics.EventReportGenerationFailed, analytics.Properties{
				"error_type": transport.ErrorTypeAPI,
				"kind":       string(kind),
				"status":     apiErr.Status,
			})
			msg := apiErr.Body
			if msg == "" {
				msg = http.StatusText(apiErr.Status)
			}
			s.writeError(w, http.StatusBadGateway, msg)
			return
		}

		reportSubmissions.WithLabelValues(string(kind), submitNetwork).Inc()
		s.track(analytics.EventReportGenerationFailed, analytics.Properties{
			"error_type": transport.ErrorTypeNetwork,
			"kind":       string(kind),
		})
		s.writeError(w, http.StatusBadGateway, networkErrorMessage)
		return
	}

	reportSubmissions.WithLabelValues(string(kind), submitAccepted).Inc()

	// The upstream job exists now; watch it even if the client goes away.
	v, err := s.watches.Start(context.WithoutCancel(r.Context()), kind, job.JobID)
	if err != nil {
		s.writeWatchError(w, "start watch", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:  job.JobID,
		Status: job.Status,
		Watch:  watchResponse{View: v, Live: true},
	})
}

// handleSuggestCompetitors proxies competitor suggestions. Lookup failures
// yield an empty list so the form stays usable.
func (s *Server) handleSuggestCompetitors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := model.SuggestCompetitorsParams{
		BusinessType: q.Get("business_type"),
		City:         q.Get("city"),
		Region:       q.Get("region"),
		Country:      q.Get("country"),
		WebsiteURL:   q.Get("website_url"),
	}
	if params.BusinessType == "" {
		s.writeError(w, http.StatusBadRequest, "business_type is required")
		return
	}

	resp, err := s.reports.SuggestCompetitors(r.Context(), params)
	if err != nil {
		s.logger.Warn("competitor suggestions failed", "error", err)
		resp = model.SuggestCompetitorsResponse{Suggestions: []model.CompetitorSuggestion{}}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var req trackEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name, err := analytics.ParseEventName(req.Event)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !clientEvents[name] {
		s.writeError(w, http.StatusBadRequest, "event "+string(name)+" is emitted by the server")
		return
	}

	s.track(name, req.Properties)
	w.WriteHeader(http.StatusAccepted)
}
