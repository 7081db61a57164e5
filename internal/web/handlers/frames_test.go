package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

func TestFramesHandler_SubmitAndResult(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	rec := serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", jsonBody(t, frameRequest(t, c, 2))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	submitted := decode[SubmitFrameResponse](t, rec)
	if _, err := uuid.Parse(submitted.RunID); err != nil {
		t.Errorf("expected a uuid run id, got %q", submitted.RunID)
	}

	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result?wait=10s", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[ResultResponse](t, rec)
	if res.RunID != submitted.RunID {
		t.Errorf("expected run %s, got %s", submitted.RunID, res.RunID)
	}
	if !res.Fresh || !res.Recognized || res.Best == nil || res.Best.PageID != 2 {
		t.Fatalf("expected fresh recognition of page 2, got %+v", res)
	}
	if len(res.Pages) != 3 {
		t.Errorf("expected 3 page results, got %d", len(res.Pages))
	}
	if res.Seq != 1 {
		t.Errorf("expected seq 1, got %d", res.Seq)
	}

	// second read is the same run, no longer fresh
	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result", nil))
	if again := decode[ResultResponse](t, rec); again.Fresh || again.RunID != res.RunID {
		t.Errorf("expected stale repeat of %s, got %+v", res.RunID, again)
	}

	rec = serve(h.State, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	state := decode[StateResponse](t, rec)
	if state.State != worker.StateIdle {
		t.Errorf("expected idle, got %s", state.State)
	}
	if state.Page == nil || *state.Page != 2 {
		t.Errorf("expected current page 2, got %v", state.Page)
	}
	if state.Pose == nil || state.Homography == nil || state.Error == nil {
		t.Error("expected pose, homography and error in state")
	}
}

func TestFramesHandler_SkipPages(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	rec := serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", jsonBody(t, frameRequest(t, c, 2, 2))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result?wait=10s", nil))
	res := decode[ResultResponse](t, rec)
	if res.Recognized {
		t.Errorf("expected no recognition with the shown page skipped, got page %d", res.Best.PageID)
	}
	if res.Pages[1].Reason != "skipped" {
		t.Errorf("expected page 2 skipped, got %q", res.Pages[1].Reason)
	}
}

func TestFramesHandler_SubmitBadRequest(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"negative polarity", `{"features":[{"x":1,"y":2,"polarity":-1,"descriptor":[1]}]}`},
		{"unknown polarity", `{"features":[{"x":1,"y":2,"polarity":258,"descriptor":[1]}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
	if replay.Pending() != 0 {
		t.Errorf("expected nothing queued, got %d", replay.Pending())
	}
	if _, ok := in.Poll(); ok {
		t.Error("expected no run after rejected requests")
	}
}

func TestFramesHandler_SubmitBusy(t *testing.T) {
	c := testCatalog(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	in := newTestInitializer(t, c, blockingDetector(started, release))
	replay := detector.NewReplay()
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	body := frameRequest(t, c, 1)
	rec := serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", jsonBody(t, body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	<-started

	rec = serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", jsonBody(t, body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
	if body := decode[ErrorResponse](t, rec); body.Code != CodeBusy {
		t.Errorf("expected busy code, got %+v", body)
	}
	// the rejected frame must not leave features behind for the next run
	if replay.Pending() != 1 {
		t.Errorf("expected only the accepted frame queued, got %d", replay.Pending())
	}

	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202 while busy, got %d", rec.Code)
	}
	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result?wait=20ms", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202 after a short wait, got %d", rec.Code)
	}

	close(release)
	rec = serve(h.Result, httptest.NewRequest(http.MethodGet, "/api/v1/result?wait=10s", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 after release, got %d", rec.Code)
	}
}

func TestFramesHandler_Closed(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))
	in.Close()

	rec := serve(h.Submit, httptest.NewRequest(http.MethodPost, "/api/v1/frames", jsonBody(t, frameRequest(t, c, 1))))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
	if replay.Pending() != 0 {
		t.Errorf("expected nothing queued, got %d", replay.Pending())
	}
}

func TestFramesHandler_ResultNoRun(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"no run yet", "/api/v1/result", http.StatusNoContent},
		{"wait when idle", "/api/v1/result?wait=1s", http.StatusNoContent},
		{"invalid wait", "/api/v1/result?wait=soon", http.StatusBadRequest},
		{"negative wait", "/api/v1/result?wait=-1s", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			rec := serve(h.Result, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if rec.Code != tc.want {
				t.Errorf("expected status %d, got %d", tc.want, rec.Code)
			}
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Errorf("expected an immediate answer, took %s", elapsed)
			}
		})
	}
}

func TestFramesHandler_StateBeforeRun(t *testing.T) {
	c := testCatalog(t, 1)
	replay := detector.NewReplay()
	in := newTestInitializer(t, c, replay)
	h := NewFramesHandler(in, replay, testFrameSize, zaptest.NewLogger(t))

	rec := serve(h.State, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	state := decode[StateResponse](t, rec)
	if state.State != worker.StateIdle || state.Page != nil || state.Pose != nil {
		t.Errorf("expected idle state without recognition, got %+v", state)
	}
}
