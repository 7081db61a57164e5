package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

const (
	maxFrameRequestBytes = 32 << 20
	maxResultWait        = 30 * time.Second
)

// SubmitFrameRequest carries detector output for one frame.
type SubmitFrameRequest struct {
	SkipPages []int                      `json:"skip_pages,omitempty"`
	Features  []detector.RecordedFeature `json:"features"`
}

// SubmitFrameResponse acknowledges an accepted frame.
type SubmitFrameResponse struct {
	RunID string       `json:"run_id"`
	State worker.State `json:"state"`
}

// ResultResponse is a completed matching run.
type ResultResponse struct {
	RunID      string                `json:"run_id"`
	Seq        uint64                `json:"seq"`
	Fresh      bool                  `json:"fresh"`
	DurationMs float64               `json:"duration_ms"`
	Recognized bool                  `json:"recognized"`
	Best       *matching.PageResult  `json:"best,omitempty"`
	Pages      []matching.PageResult `json:"pages"`
	Features   int                   `json:"features"`
	Matched    int                   `json:"matched"`
	Error      string                `json:"error,omitempty"`
}

// StateResponse describes the matcher and its current recognition.
type StateResponse struct {
	State      worker.State       `json:"state"`
	Page       *int               `json:"page,omitempty"`
	Error      *float64           `json:"error,omitempty"`
	Pose       *[3][4]float64     `json:"pose,omitempty"`
	Homography *homography.Matrix `json:"homography,omitempty"`
}

// FramesHandler accepts detector output and reports matching results. The
// features of a submitted frame are queued on the replay detector the
// initializer was built with.
type FramesHandler struct {
	in     *initializer.Initializer
	replay *detector.Replay
	frame  []byte
	logger *zap.Logger

	mu sync.Mutex // serializes submissions so queued features belong to the run they were pushed for
}

// NewFramesHandler creates a frames handler. frameSize is the buffer length
// the initializer expects per frame.
func NewFramesHandler(in *initializer.Initializer, replay *detector.Replay, frameSize int, logger *zap.Logger) *FramesHandler {
	return &FramesHandler{
		in:     in,
		replay: replay,
		frame:  make([]byte, frameSize),
		logger: logger,
	}
}

// Submit queues one frame of features for matching.
func (h *FramesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitFrameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameRequestBytes)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}

	features := make([]matching.QueryFeature, len(req.Features))
	for i, f := range req.Features {
		if f.Polarity < 0 || f.Polarity > int(catalog.PolarityAmbiguous) {
			respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("feature %d: invalid polarity %d", i, f.Polarity))
			return
		}
		features[i] = f.QueryFeature()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.in.State() {
	case worker.StateBusy:
		respondMatcherError(w, r, h.logger, "submit frame", initializer.ErrBusy)
		return
	case worker.StateClosed:
		respondMatcherError(w, r, h.logger, "submit frame", initializer.ErrClosed)
		return
	}

	h.replay.Push(features)
	id, err := h.in.SubmitWithOptions(h.frame, matching.RunOptions{SkipPages: req.SkipPages})
	if err != nil {
		h.replay.Reset()
		respondMatcherError(w, r, h.logger, "submit frame", err)
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitFrameResponse{RunID: id.String(), State: worker.StateBusy})
}

// Result returns the latest completed run. With ?wait=<duration> it first
// waits for the in-flight run, up to 30s.
func (h *FramesHandler) Result(w http.ResponseWriter, r *http.Request) {
	if s := r.URL.Query().Get("wait"); s != "" {
		wait, err := time.ParseDuration(s)
		if err != nil || wait < 0 {
			respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid wait duration: "+cleanParam(s))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), min(wait, maxResultWait))
		defer cancel()
		// a timeout just means the run is still busy
		_ = h.in.Wait(ctx)
	}

	res, ok := h.in.Poll()
	if !ok {
		if state := h.in.State(); state == worker.StateBusy {
			respondJSON(w, http.StatusAccepted, StateResponse{State: state})
			return
		}
		respondJSON(w, http.StatusNoContent, nil)
		return
	}
	respondJSON(w, http.StatusOK, resultResponse(res))
}

func resultResponse(res worker.Result) ResultResponse {
	out := ResultResponse{
		RunID:      res.RunID.String(),
		Seq:        res.Seq,
		Fresh:      res.Fresh,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
		Recognized: res.Recognized,
		Pages:      finitePages(res.Pages),
		Features:   res.Features,
		Matched:    res.Matched,
	}
	if res.Recognized {
		best := res.Best
		out.Best = &best
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// finitePages caps non-finite reprojection errors, which JSON cannot carry.
func finitePages(pages []matching.PageResult) []matching.PageResult {
	out := slices.Clone(pages)
	for i := range out {
		if math.IsInf(out[i].Error, 0) || math.IsNaN(out[i].Error) {
			out[i].Error = math.MaxFloat64
		}
	}
	return out
}

// State reports the worker state and the current recognition, if any.
func (h *FramesHandler) State(w http.ResponseWriter, r *http.Request) {
	out := StateResponse{State: h.in.State()}
	if page, ok := h.in.CurrentPage(); ok {
		out.Page = &page
	}
	if e, ok := h.in.CurrentError(); ok {
		out.Error = &e
	}
	if pose, ok := h.in.CurrentPose(); ok {
		out.Pose = &pose
	}
	if hm, ok := h.in.CurrentHomography(); ok {
		out.Homography = &hm
	}
	respondJSON(w, http.StatusOK, out)
}
