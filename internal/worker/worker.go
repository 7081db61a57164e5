// Package worker runs the matching pipeline on a background goroutine, one
// frame at a time, so the caller's tracking loop never blocks on matching.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/logging"
	"github.com/kozaktomas/pagefinder/internal/matching"
)

var (
	ErrBusy   = errors.New("worker is busy")
	ErrClosed = errors.New("worker is shut down")
)

// State represents the lifecycle state of the worker.
type State string

// State constants define the lifecycle states of the worker.
const (
	StateIdle   State = "idle"
	StateBusy   State = "busy"
	StateClosed State = "closed"
)

// Runner processes one frame. *matching.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, frame matching.Frame, opts matching.RunOptions) (matching.Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, frame matching.Frame, opts matching.RunOptions) (matching.Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, frame matching.Frame, opts matching.RunOptions) (matching.Outcome, error) {
	return f(ctx, frame, opts)
}

// Result is the outcome of one completed run.
type Result struct {
	matching.Outcome
	RunID    uuid.UUID
	Seq      uint64 // 1 for the first run
	Duration time.Duration
	Err      error // run-level failure such as a detector error
	Fresh    bool  // true only on the first Poll that returns this result
}

// FrameSpec fixes the geometry of the frames a worker accepts.
type FrameSpec struct {
	Width  int
	Height int
	Format matching.PixelFormat
}

// Size returns the buffer length of one frame.
func (s FrameSpec) Size() (int, error) {
	return s.Format.FrameSize(s.Width, s.Height)
}

// run is one submitted frame. The worker fills result and closes done.
type run struct {
	id     uuid.UUID
	seq    uint64
	frame  matching.Frame
	opts   matching.RunOptions
	result Result
	done   chan struct{}
}

// Worker owns a frame buffer and a goroutine that runs frames through a
// Runner. At most one run is outstanding: Submit while a run is in flight
// fails with ErrBusy instead of queueing.
type Worker struct {
	runner Runner
	spec   FrameSpec
	size   int
	logger *zap.Logger

	requests chan *run // capacity 1, at most one outstanding run
	quit     chan struct{}
	wg       sync.WaitGroup
	stop     sync.Once

	mu      sync.Mutex
	buf     []byte
	current *run // in flight, nil when idle
	latest  Result
	has     bool // a completed result is available
	unread  bool // latest has not been returned by Poll yet
	seq     uint64
	closed  bool
}

// New validates spec, allocates the frame buffer and starts the worker goroutine.
func New(runner Runner, spec FrameSpec, logger *zap.Logger) (*Worker, error) {
	if runner == nil {
		return nil, errors.New("worker needs a runner")
	}
	size, err := spec.Size()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		runner:   runner,
		spec:     spec,
		size:     size,
		logger:   logging.OrNop(logger),
		requests: make(chan *run, 1),
		quit:     make(chan struct{}),
		buf:      make([]byte, size),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Spec returns the accepted frame geometry.
func (w *Worker) Spec() FrameSpec { return w.spec }

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			// a request sent just before shutdown is answered, not dropped
			select {
			case r := <-w.requests:
				r.result = Result{RunID: r.id, Seq: r.seq, Err: ErrClosed}
				close(r.done)
			default:
			}
			return
		case r := <-w.requests:
			w.process(r)
		}
	}
}

func (w *Worker) process(r *run) {
	start := time.Now()
	out, err := w.runner.Run(context.Background(), r.frame, r.opts)
	r.result = Result{
		Outcome:  out,
		RunID:    r.id,
		Seq:      r.seq,
		Duration: time.Since(start),
		Err:      err,
	}

	fields := []zap.Field{
		zap.String("run_id", r.id.String()),
		zap.Uint64("seq", r.seq),
		zap.Duration("duration", r.result.Duration),
	}
	switch {
	case err != nil:
		w.logger.Warn("matching run failed", append(fields, zap.Error(err))...)
	case out.Recognized:
		w.logger.Debug("page recognized", append(fields,
			zap.Int("page", out.Best.PageID),
			zap.Int("inliers", out.Best.Inliers),
			zap.Float64("error", out.Best.Error))...)
	default:
		w.logger.Debug("no page recognized", append(fields, zap.Int("features", out.Features))...)
	}

	close(r.done)
}

// Submit copies data into the worker buffer and starts a run. Data must
// hold at least one full frame of the worker's FrameSpec.
func (w *Worker) Submit(data []byte, opts matching.RunOptions) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return uuid.Nil, ErrClosed
	}
	w.collect()
	if w.current != nil {
		return uuid.Nil, ErrBusy
	}
	if len(data) < w.size {
		return uuid.Nil, fmt.Errorf("%w: need %d bytes, got %d", matching.ErrFrameSize, w.size, len(data))
	}

	if len(w.buf) != w.size {
		w.buf = make([]byte, w.size)
	}
	copy(w.buf, data[:w.size])

	w.seq++
	r := &run{
		id:  uuid.New(),
		seq: w.seq,
		frame: matching.Frame{
			Data:   w.buf,
			Width:  w.spec.Width,
			Height: w.spec.Height,
			Format: w.spec.Format,
		},
		opts: matching.RunOptions{SkipPages: append([]int(nil), opts.SkipPages...)},
		done: make(chan struct{}),
	}
	w.current = r
	// never blocks: the slot is empty whenever current was nil
	w.requests <- r
	return r.id, nil
}

// collect moves a finished run into latest. Callers hold mu.
func (w *Worker) collect() {
	if w.current == nil {
		return
	}
	select {
	case <-w.current.done:
		w.latest = w.current.result
		w.has = true
		w.unread = true
		w.current = nil
	default:
	}
}

// Poll returns the latest completed result without blocking. It reports
// false while a run is in flight or before the first run completed.
// Repeated polls return the same result with Fresh unset.
func (w *Worker) Poll() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.collect()
	if w.current != nil || !w.has {
		return Result{}, false
	}
	r := w.latest
	r.Fresh = w.unread
	w.unread = false
	return r, true
}

// Latest returns the last completed result even while a new run is in
// flight, without marking it read.
func (w *Worker) Latest() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.collect()
	if !w.has {
		return Result{}, false
	}
	r := w.latest
	r.Fresh = w.unread
	return r, true
}

// Seq returns the number of runs submitted so far.
func (w *Worker) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.collect()
	switch {
	case w.current != nil:
		return StateBusy
	case w.closed:
		return StateClosed
	default:
		return StateIdle
	}
}

// Wait blocks until the in-flight run, if any, has completed or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	r := w.current
	w.mu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		w.mu.Lock()
		w.collect()
		w.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker goroutine after any in-flight run finishes and
// releases the frame buffer. It is safe to call more than once.
func (w *Worker) Shutdown() {
	w.stop.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		close(w.quit)
		w.wg.Wait()

		w.mu.Lock()
		w.collect()
		w.buf = nil
		w.mu.Unlock()
		w.logger.Debug("worker stopped", zap.Uint64("runs", w.seq))
	})
}
