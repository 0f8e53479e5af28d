package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/store"
	"github.com/seantiz/reportwatch/internal/watch"
)

// createWatchRequest is the JSON body for POST /v1/watches.
type createWatchRequest struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id"`
}

// rebindRequest is the JSON body for PUT /v1/watches/{id}/subject.
type rebindRequest struct {
	JobID string `json:"job_id"`
}

// watchResponse is a watch view plus whether an engine still drives it.
type watchResponse struct {
	watch.View
	Live       bool       `json:"live"`
	DetachedAt *time.Time `json:"detached_at,omitempty"`
}

// listWatchesResponse wraps the paginated list response.
type listWatchesResponse struct {
	Watches []*model.WatchRecord `json:"watches"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// historyResponse is the JSON response for GET /v1/watches/{id}/history.
type historyResponse struct {
	WatchID     string             `json:"watch_id"`
	Transitions []model.Transition `json:"transitions"`
}

// storedView rebuilds a view from a persisted record. Results are not
// persisted, so a stored view never carries one.
func storedView(rec *model.WatchRecord) watchResponse {
	return watchResponse{
		View: watch.View{
			ID:        rec.ID,
			Kind:      rec.Kind,
			CreatedAt: rec.CreatedAt,
			Snapshot: model.Snapshot{
				Subject:        rec.Subject,
				Generation:     rec.Generation,
				Phase:          rec.Phase,
				Progress:       rec.Progress,
				CurrentStep:    rec.CurrentStep,
				StepsCompleted: []string{},
				ErrorMessage:   rec.ErrorMessage,
				UpdatedAt:      rec.UpdatedAt,
			},
		},
		DetachedAt: rec.DetachedAt,
	}
}

func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind, err := model.ParseReportKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	v, err := s.watches.Start(r.Context(), kind, req.JobID)
	if err != nil {
		s.writeWatchError(w, "start watch", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, watchResponse{View: v, Live: true})
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	watches, total, err := s.store.ListWatches(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list watches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list watches")
		return
	}

	if watches == nil {
		watches = []*model.WatchRecord{}
	}

	s.writeJSON(w, http.StatusOK, listWatchesResponse{
		Watches: watches,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if v, err := s.watches.Get(id); err == nil {
		s.writeJSON(w, http.StatusOK, watchResponse{View: v, Live: true})
		return
	}

	rec, err := s.store.GetWatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "watch not found")
		return
	}
	if err != nil {
		s.logger.Error("get watch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get watch")
		return
	}

	s.writeJSON(w, http.StatusOK, storedView(rec))
}

func (s *Server) handleRetryWatch(w http.ResponseWriter, r *http.Request) {
	v, err := s.watches.Retry(chi.URLParam(r, "id"))
	if err != nil {
		s.writeWatchError(w, "retry watch", err)
		return
	}
	s.writeJSON(w, http.StatusOK, watchResponse{View: v, Live: true})
}

func (s *Server) handleRebindWatch(w http.ResponseWriter, r *http.Request) {
	var req rebindRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	v, err := s.watches.Rebind(chi.URLParam(r, "id"), req.JobID)
	if err != nil {
		s.writeWatchError(w, "rebind watch", err)
		return
	}
	s.writeJSON(w, http.StatusOK, watchResponse{View: v, Live: true})
}

func (s *Server) handleDeleteWatch(w http.ResponseWriter, r *http.Request) {
	v, err := s.watches.Stop(chi.URLParam(r, "id"))
	if err != nil {
		s.writeWatchError(w, "stop watch", err)
		return
	}
	s.writeJSON(w, http.StatusOK, watchResponse{View: v})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetWatch(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "watch not found")
			return
		}
		s.logger.Error("get watch for history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get watch")
		return
	}

	transitions, err := s.store.ListTransitions(r.Context(), id)
	if err != nil {
		s.logger.Error("list transitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if transitions == nil {
		transitions = []model.Transition{}
	}

	s.writeJSON(w, http.StatusOK, historyResponse{
		WatchID:     id,
		Transitions: transitions,
	})
}

// writeWatchError maps manager errors to HTTP responses.
func (s *Server) writeWatchError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, watch.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "watch not found")
	case errors.Is(err, watch.ErrEmptySubject):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, watch.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
