// Package initializer owns everything needed to recognize pages in a live
// camera feed: the reference catalog, its matching index, the pipeline and
// the background worker. It is the API a tracking loop talks to.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/config"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/index"
	"github.com/kozaktomas/pagefinder/internal/logging"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

var (
	ErrBusy   = worker.ErrBusy
	ErrClosed = worker.ErrClosed
)

// Initializer recognizes pages on frames submitted from a tracking loop.
// Frames are matched one at a time on a background goroutine.
type Initializer struct {
	cfg    *config.Config
	det    matching.Detector
	est    *homography.Estimator
	logger *zap.Logger
	worker *worker.Worker

	mu       sync.RWMutex
	cat      *catalog.Catalog
	pipeline *matching.Pipeline
	since    uint64 // results of runs up to this seq predate the current catalog
}

// New builds the matching index for cat and starts the worker. The catalog
// is copied, so the caller may keep using cat. Frames submitted later must
// match frame.
func New(cat *catalog.Catalog, det matching.Detector, frame worker.FrameSpec, cfg *config.Config, logger *zap.Logger) (*Initializer, error) {
	if cat == nil {
		return nil, catalog.ErrEmptyCatalog
	}
	if det == nil {
		return nil, errors.New("initializer needs a detector")
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := frame.Size(); err != nil {
		return nil, err
	}

	in := &Initializer{
		cfg:    cfg,
		det:    det,
		est:    homography.NewEstimator(EstimatorOptions(cfg)),
		logger: logging.OrNop(logger),
	}

	own := cat.Clone()
	p, err := in.newPipeline(own)
	if err != nil {
		return nil, err
	}
	in.cat = own
	in.pipeline = p

	w, err := worker.New(worker.RunnerFunc(in.run), frame, in.logger.Named("worker"))
	if err != nil {
		return nil, err
	}
	in.worker = w

	in.logger.Info("initializer ready",
		zap.Int("pages", own.NumPages()),
		zap.Int("features", own.Len()),
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.String("format", string(frame.Format)))
	return in, nil
}

// newPipeline loads or builds the index for cat and wraps it in a pipeline.
func (in *Initializer) newPipeline(cat *catalog.Catalog) (*matching.Pipeline, error) {
	idx, err := in.buildIndex(cat)
	if err != nil {
		return nil, err
	}
	return matching.NewPipeline(idx, in.det, in.est, PipelineOptions(in.cfg, in.logger.Named("pipeline")))
}

func (in *Initializer) buildIndex(cat *catalog.Catalog) (*index.DualIndex, error) {
	opts := IndexOptions(in.cfg, in.logger.Named("index"))
	path := in.cfg.Index.CachePath

	if path != "" {
		idx, err := index.Load(path, cat, opts)
		if err == nil {
			in.logger.Info("using cached matching index", zap.String("path", path))
			return idx, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			in.logger.Info("no cached matching index, building", zap.String("path", path))
		} else {
			in.logger.Warn("cached matching index unusable, rebuilding", zap.String("path", path), zap.Error(err))
		}
	}

	idx, err := index.Build(cat, opts)
	if err != nil {
		return nil, fmt.Errorf("build matching index: %w", err)
	}
	if path != "" {
		if err := idx.Save(path); err != nil {
			in.logger.Warn("failed to cache matching index", zap.String("path", path), zap.Error(err))
		}
	}
	return idx, nil
}

// run is the worker's Runner. The pipeline is only swapped while the worker
// is idle, so reading it under the read lock is enough.
func (in *Initializer) run(ctx context.Context, frame matching.Frame, opts matching.RunOptions) (matching.Outcome, error) {
	in.mu.RLock()
	p := in.pipeline
	in.mu.RUnlock()
	return p.Run(ctx, frame, opts)
}

// Submit starts matching a copy of data. It fails with ErrBusy while a
// previous frame is still being matched.
func (in *Initializer) Submit(data []byte) (uuid.UUID, error) {
	return in.SubmitWithOptions(data, matching.RunOptions{})
}

// SubmitWithOptions is Submit with per-run options such as pages to skip.
func (in *Initializer) SubmitWithOptions(data []byte, opts matching.RunOptions) (uuid.UUID, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.worker.Submit(data, opts)
}

// Poll returns the latest completed result without blocking.
func (in *Initializer) Poll() (worker.Result, bool) {
	return in.worker.Poll()
}

// State returns the worker state.
func (in *Initializer) State() worker.State {
	return in.worker.State()
}

// Wait blocks until the in-flight frame, if any, has been matched.
func (in *Initializer) Wait(ctx context.Context) error {
	return in.worker.Wait(ctx)
}

// current returns the latest recognized page result for the current catalog.
func (in *Initializer) current() (matching.PageResult, bool) {
	res, ok := in.worker.Latest()
	if !ok || res.Err != nil || !res.Recognized {
		return matching.PageResult{}, false
	}
	in.mu.RLock()
	since := in.since
	in.mu.RUnlock()
	if res.Seq <= since {
		return matching.PageResult{}, false
	}
	return res.Best, true
}

// CurrentPage returns the page recognized by the latest completed run.
func (in *Initializer) CurrentPage() (int, bool) {
	r, ok := in.current()
	return r.PageID, ok
}

// CurrentPose returns the homography-mode pose of the latest recognition.
func (in *Initializer) CurrentPose() ([3][4]float64, bool) {
	r, ok := in.current()
	return r.Pose, ok
}

// CurrentError returns the mean squared reprojection error (px²) of the
// latest recognition.
func (in *Initializer) CurrentError() (float64, bool) {
	r, ok := in.current()
	return r.Error, ok
}

// CurrentHomography returns the reference-to-frame homography of the latest
// recognition.
func (in *Initializer) CurrentHomography() (homography.Matrix, bool) {
	r, ok := in.current()
	return r.H, ok
}

// SetCatalog replaces the reference catalog and rebuilds the index. It is
// rejected with ErrBusy while a frame is being matched. If building fails
// the previous catalog stays in use.
func (in *Initializer) SetCatalog(cat *catalog.Catalog) error {
	if cat == nil {
		return catalog.ErrEmptyCatalog
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.worker.State() {
	case worker.StateBusy:
		return ErrBusy
	case worker.StateClosed:
		return ErrClosed
	}

	own := cat.Clone()
	p, err := in.newPipeline(own)
	if err != nil {
		return err
	}
	in.cat = own
	in.pipeline = p
	in.since = in.worker.Seq()

	in.logger.Info("catalog replaced", zap.Int("pages", own.NumPages()), zap.Int("features", own.Len()))
	return nil
}

// Catalog returns a copy of the current catalog.
func (in *Initializer) Catalog() *catalog.Catalog {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.cat.Clone()
}

// Close waits for the in-flight frame and stops the worker. It is safe to
// call more than once.
func (in *Initializer) Close() {
	in.worker.Shutdown()
}
