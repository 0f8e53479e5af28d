package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/poller"
)

func TestCreateWatch(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.set("job-1", processing(0.45), complete())

	resp := env.do(t, http.MethodPost, "/v1/watches", `{"kind":"governance","job_id":"job-1"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	got := decodeJSON[watchResponse](t, resp)
	if got.ID == "" {
		t.Error("expected non-empty ID")
	}
	if !got.Live {
		t.Error("live = false, want true")
	}
	if got.Kind != model.KindGovernance {
		t.Errorf("kind = %q, want governance", got.Kind)
	}
	if got.Snapshot.Subject != "job-1" {
		t.Errorf("subject = %q, want job-1", got.Snapshot.Subject)
	}

	done := env.waitPhase(t, got.ID, model.PhaseComplete)
	if string(done.Snapshot.Result) != `{"ok":true}` {
		t.Errorf("result = %s", done.Snapshot.Result)
	}
}

func TestCreateWatchValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"unknown kind", `{"kind":"audit","job_id":"job-1"}`},
		{"missing kind", `{"job_id":"job-1"}`},
		{"missing job", `{"kind":"seo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/watches", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetWatchNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/watches/nonexistent", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetWatchFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.set("job-1", processing(0.3))

	created := decodeJSON[watchResponse](t, env.do(t, http.MethodPost, "/v1/watches", `{"kind":"seo","job_id":"job-1"}`))
	env.waitPhase(t, created.ID, model.PhaseProcessing)

	resp := env.do(t, http.MethodDelete, "/v1/watches/"+created.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	stopped := decodeJSON[watchResponse](t, resp)
	if stopped.Live {
		t.Error("stopped watch reported live")
	}

	var got watchResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got = decodeJSON[watchResponse](t, env.do(t, http.MethodGet, "/v1/watches/"+created.ID, ""))
		if got.DetachedAt != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.DetachedAt == nil {
		t.Fatal("stored watch never marked detached")
	}
	if got.Live {
		t.Error("stored watch reported live")
	}
	if got.Snapshot.Phase != model.PhaseProcessing {
		t.Errorf("phase = %q, want processing", got.Snapshot.Phase)
	}
	if got.Snapshot.Progress != 0.3 {
		t.Errorf("progress = %v, want 0.3", got.Snapshot.Progress)
	}
}

func TestListWatchesPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := range 5 {
		job := fmt.Sprintf("job-%d", i)
		env.jobs.set(job, processing(0.1))
		resp := env.do(t, http.MethodPost, "/v1/watches", fmt.Sprintf(`{"kind":"seo","job_id":%q}`, job))
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("create %s: status = %d", job, resp.StatusCode)
		}
	}

	got := decodeJSON[listWatchesResponse](t, env.do(t, http.MethodGet, "/v1/watches?limit=2&offset=1", ""))
	if got.Total != 5 {
		t.Errorf("total = %d, want 5", got.Total)
	}
	if len(got.Watches) != 2 {
		t.Errorf("len(watches) = %d, want 2", len(got.Watches))
	}
	if got.Limit != 2 || got.Offset != 1 {
		t.Errorf("limit/offset = %d/%d, want 2/1", got.Limit, got.Offset)
	}

	// Out-of-range limit falls back to the default.
	got = decodeJSON[listWatchesResponse](t, env.do(t, http.MethodGet, "/v1/watches?limit=1000&offset=-3", ""))
	if got.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", got.Limit, defaultListLimit)
	}
	if got.Offset != 0 {
		t.Errorf("offset = %d, want 0", got.Offset)
	}
}

func TestListWatchesEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/watches", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJSON[listWatchesResponse](t, resp)
	if got.Watches == nil || len(got.Watches) != 0 {
		t.Errorf("watches = %v, want empty list", got.Watches)
	}
}

func TestRetryWatch(t *testing.T) {
	env := newTestEnv(t)
	failed := model.StatusPayload{Status: "failed", StepsCompleted: []string{}}
	env.jobs.set("job-1", failed, processing(0.5))

	created := decodeJSON[watchResponse](t, env.do(t, http.MethodPost, "/v1/watches", `{"kind":"seo","job_id":"job-1"}`))
	before := env.waitPhase(t, created.ID, model.PhaseFailed)
	if before.Snapshot.ErrorMessage != poller.DefaultFailureMessage {
		t.Errorf("error = %q, want %q", before.Snapshot.ErrorMessage, poller.DefaultFailureMessage)
	}

	resp := env.do(t, http.MethodPost, "/v1/watches/"+created.ID+"/retry", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", resp.StatusCode)
	}
	retried := decodeJSON[watchResponse](t, resp)
	if retried.Snapshot.Generation <= before.Snapshot.Generation {
		t.Errorf("generation = %d, want > %d", retried.Snapshot.Generation, before.Snapshot.Generation)
	}

	after := env.waitPhase(t, created.ID, model.PhaseProcessing)
	if after.Snapshot.ErrorMessage != "" {
		t.Errorf("error = %q, want cleared", after.Snapshot.ErrorMessage)
	}
}

func TestRetryWatchNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/watches/nonexistent/retry", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRebindWatch(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.set("job-a", processing(0.1))
	env.jobs.set("job-b", complete())

	created := decodeJSON[watchResponse](t, env.do(t, http.MethodPost, "/v1/watches", `{"kind":"seo","job_id":"job-a"}`))
	env.waitPhase(t, created.ID, model.PhaseProcessing)

	resp := env.do(t, http.MethodPut, "/v1/watches/"+created.ID+"/subject", `{"job_id":"job-b"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rebind status = %d, want 200", resp.StatusCode)
	}

	done := env.waitPhase(t, created.ID, model.PhaseComplete)
	if done.Snapshot.Subject != "job-b" {
		t.Errorf("subject = %q, want job-b", done.Snapshot.Subject)
	}

	resp = env.do(t, http.MethodPut, "/v1/watches/"+created.ID+"/subject", `{"job_id":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("park status = %d, want 200", resp.StatusCode)
	}
	parked := decodeJSON[watchResponse](t, resp)
	if parked.Snapshot.Phase != model.PhaseIdle {
		t.Errorf("phase = %q, want idle", parked.Snapshot.Phase)
	}
}

func TestDeleteWatchNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodDelete, "/v1/watches/nonexistent", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.set("job-1", processing(0.5), complete())

	created := decodeJSON[watchResponse](t, env.do(t, http.MethodPost, "/v1/watches", `{"kind":"governance","job_id":"job-1"}`))
	env.waitPhase(t, created.ID, model.PhaseComplete)

	var got historyResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got = decodeJSON[historyResponse](t, env.do(t, http.MethodGet, "/v1/watches/"+created.ID+"/history", ""))
		if len(got.Transitions) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got.WatchID != created.ID {
		t.Errorf("watch_id = %q, want %q", got.WatchID, created.ID)
	}
	want := []model.Phase{model.PhaseIdle, model.PhaseProcessing, model.PhaseComplete}
	if len(got.Transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(got.Transitions), len(want))
	}
	for i, tr := range got.Transitions {
		if tr.Seq != i {
			t.Errorf("transitions[%d].Seq = %d", i, tr.Seq)
		}
		if tr.Phase != want[i] {
			t.Errorf("transitions[%d].Phase = %q, want %q", i, tr.Phase, want[i])
		}
	}
}

func TestGetHistoryNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/watches/nonexistent/history", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
