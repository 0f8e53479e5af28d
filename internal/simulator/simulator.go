// Package simulator serves a fake report API. Jobs advance one step per
// status request, which makes the polling stack testable end to end without
// the real report backend.
package simulator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/reportwatch/internal/model"
)

// GovernanceSteps is the pipeline a governance job walks through.
var GovernanceSteps = []string{
	"url_normalize",
	"fetch_homepage",
	"parse_sitemap",
	"sample_pages",
	"run_detectors",
	"run_psi",
	"build_issues",
	"generate_checklist",
	"build_report",
}

// SEOSteps is the pipeline an SEO job walks through.
var SEOSteps = []string{
	"resolve_competitors",
	"crawl_competitors",
	"compare_signals",
	"build_plan",
}

// Script controls how a simulated job progresses.
type Script struct {
	// Steps the job reports while processing. Empty means the kind's default.
	Steps []string
	// FailAt is the index of the step at which the job fails. Negative
	// never fails.
	FailAt int
	// FailMessage is reported with the failure. Empty sends error: null.
	FailMessage string
	// StatusCode, when non-zero, makes every status request answer with
	// that HTTP code and FailMessage as the body.
	StatusCode int
}

// DefaultScript walks the kind's pipeline to completion.
func DefaultScript(kind model.ReportKind) Script {
	return Script{Steps: defaultSteps(kind), FailAt: -1}
}

func defaultSteps(kind model.ReportKind) []string {
	if kind == model.KindSEO {
		return SEOSteps
	}
	return GovernanceSteps
}

// job is the state of one simulated report job. polls counts status
// requests answered so far.
type job struct {
	id     string
	kind   model.ReportKind
	script Script
	polls  int
}

// status advances the job by one request and returns the payload to send.
func (j *job) status() model.StatusPayload {
	defer func() { j.polls++ }()

	p := model.StatusPayload{JobID: j.id, StepsCompleted: []string{}}
	steps := j.script.Steps

	if j.polls == 0 {
		p.Status = "queued"
		return p
	}

	i := j.polls - 1
	if i > len(steps) {
		i = len(steps)
	}
	p.StepsCompleted = append(p.StepsCompleted, steps[:i]...)

	if j.script.FailAt >= 0 && i >= j.script.FailAt {
		p.Status = "failed"
		p.StepsCompleted = append([]string{}, steps[:min(j.script.FailAt, len(steps))]...)
		p.Progress = progressAt(j.script.FailAt, len(steps))
		if j.script.FailMessage != "" {
			msg := j.script.FailMessage
			p.Error = &msg
		}
		return p
	}

	if i == len(steps) {
		p.Status = "complete"
		p.Progress = 1
		switch j.kind {
		case model.KindSEO:
			p.SEOReport = cannedSEOReport
		default:
			p.GovernanceReport = cannedGovernanceReport
		}
		return p
	}

	p.Status = "processing"
	p.Progress = progressAt(i, len(steps))
	step := steps[i]
	p.CurrentStep = &step
	return p
}

func progressAt(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(min(done, total)) / float64(total)
}

// Option configures a Server.
type Option func(*Server)

// WithScript sets the script used for new jobs of the given kind.
func WithScript(kind model.ReportKind, s Script) Option {
	return func(srv *Server) {
		if len(s.Steps) == 0 {
			s.Steps = defaultSteps(kind)
		}
		srv.scripts[kind] = s
	}
}

// WithSuggestions sets the competitor suggestion response.
func WithSuggestions(resp model.SuggestCompetitorsResponse) Option {
	return func(srv *Server) {
		srv.suggestions = resp
	}
}

// Server is a fake report API. It is safe for concurrent use.
type Server struct {
	router      *chi.Mux
	logger      *slog.Logger
	scripts     map[model.ReportKind]Script
	suggestions model.SuggestCompetitorsResponse

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a simulator.
func New(logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		scripts: map[model.ReportKind]Script{
			model.KindGovernance: DefaultScript(model.KindGovernance),
			model.KindSEO:        DefaultScript(model.KindSEO),
		},
		suggestions: defaultSuggestions(),
		jobs:        make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/report", func(r chi.Router) {
		r.Post("/governance", s.handleSubmitGovernance)
		r.Post("/seo", s.handleSubmitSEO)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/suggest-competitors", s.handleSuggest)
	})
}

// Router returns the simulator's HTTP handler.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Seed registers a job with an explicit script and returns its id.
func (s *Server) Seed(kind model.ReportKind, script Script) string {
	if len(script.Steps) == 0 {
		script.Steps = defaultSteps(kind)
	}
	j := &job{id: model.NewID(), kind: kind, script: script}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.id] = j
	return j.id
}

// Polls returns how many status requests a job has answered.
func (s *Server) Polls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.polls
	}
	return 0
}

func (s *Server) handleSubmitGovernance(w http.ResponseWriter, r *http.Request) {
	var req model.GovernanceReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.create(w, model.KindGovernance)
}

func (s *Server) handleSubmitSEO(w http.ResponseWriter, r *http.Request) {
	var req model.SEOReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.create(w, model.KindSEO)
}

func (s *Server) create(w http.ResponseWriter, kind model.ReportKind) {
	id := s.Seed(kind, s.scripts[kind])
	s.logger.Info("simulated job created", "job_id", id, "kind", kind)
	writeJSON(w, http.StatusOK, model.JobCreateResponse{JobID: id, Status: "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if code := j.script.StatusCode; code != 0 {
		j.polls++
		s.mu.Unlock()
		http.Error(w, j.script.FailMessage, code)
		return
	}
	p := j.status()
	s.mu.Unlock()

	s.logger.Debug("simulated status", "job_id", id, "status", p.Status, "progress", p.Progress)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("business_type")) == "" {
		writeError(w, http.StatusUnprocessableEntity, "business_type is required")
		return
	}
	writeJSON(w, http.StatusOK, s.suggestions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
