package matching

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/constants"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/index"
	"github.com/kozaktomas/pagefinder/internal/logging"
)

// Options configures a Pipeline.
type Options struct {
	KNN                int
	MinCorrespondences int
	MinInliers         int
	MaxPoseError       float64 // px²
	Transform          Transform
	Logger             *zap.Logger
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{
		KNN:                constants.DefaultKNN,
		MinCorrespondences: constants.MinCorrespondences,
		MinInliers:         constants.DefaultMinInliers,
		MaxPoseError:       constants.DefaultMaxPoseError,
	}
}

// RunOptions applies to a single run.
type RunOptions struct {
	// SkipPages are not evaluated in this run.
	SkipPages []int
}

// Outcome is the result of one run.
type Outcome struct {
	Best       PageResult   `json:"best"`
	Recognized bool         `json:"recognized"`
	Pages      []PageResult `json:"pages"` // one per catalog page, in catalog order
	Features   int          `json:"features"`
	Matched    int          `json:"matched"` // query features with at least one match
}

// Pipeline matches frames against one catalog. It is not safe for
// concurrent use because the estimator keeps per-run scratch state.
type Pipeline struct {
	cat    *catalog.Catalog
	idx    *index.DualIndex
	det    Detector
	est    *homography.Estimator
	opts   Options
	logger *zap.Logger
}

// NewPipeline wires an index, a detector and an estimator together. Counts
// below the 4 correspondences a homography needs are raised to 4.
func NewPipeline(idx *index.DualIndex, det Detector, est *homography.Estimator, opts Options) (*Pipeline, error) {
	if idx == nil {
		return nil, errors.New("pipeline needs an index")
	}
	if det == nil {
		return nil, errors.New("pipeline needs a detector")
	}
	if est == nil {
		est = homography.NewEstimator(homography.DefaultOptions())
	}
	def := DefaultOptions()
	if opts.KNN < 1 {
		opts.KNN = def.KNN
	}
	opts.MinCorrespondences = max(opts.MinCorrespondences, constants.MinCorrespondences)
	opts.MinInliers = max(opts.MinInliers, constants.MinCorrespondences)
	if opts.MaxPoseError <= 0 {
		opts.MaxPoseError = def.MaxPoseError
	}

	return &Pipeline{
		cat:    idx.Catalog(),
		idx:    idx,
		det:    det,
		est:    est,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// Catalog returns the catalog the pipeline matches against.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.cat }

// Run detects features in frame and matches them.
func (p *Pipeline) Run(ctx context.Context, frame Frame, ro RunOptions) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	features, err := p.det.Detect(ctx, frame)
	if err != nil {
		return Outcome{}, fmt.Errorf("detect features: %w", err)
	}
	return p.MatchFeatures(ctx, features, ro)
}

// MatchFeatures matches already detected features: index lookup, grouping
// by page, per-page estimation and resolution.
func (p *Pipeline) MatchFeatures(ctx context.Context, features []QueryFeature, ro RunOptions) (Outcome, error) {
	queries := make([]index.Query, len(features))
	for i, f := range features {
		queries[i] = index.Query{Descriptor: f.Descriptor, Polarity: f.Polarity}
	}
	records, err := p.idx.Match(queries, p.opts.KNN)
	if err != nil {
		return Outcome{}, fmt.Errorf("match features: %w", err)
	}

	out := Outcome{Features: len(features)}
	for _, recs := range records {
		if len(recs) > 0 {
			out.Matched++
		}
	}

	skip := make(map[int]bool, len(ro.SkipPages))
	for _, id := range ro.SkipPages {
		skip[id] = true
	}

	maps := Aggregate(p.cat, features, records, p.opts.Transform)
	out.Pages = make([]PageResult, len(maps))
	for i, m := range maps {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		out.Pages[i] = p.matchPage(m, skip[m.PageID])
		p.logger.Debug("page evaluated",
			zap.Int("page", m.PageID),
			zap.Int("correspondences", out.Pages[i].Correspondences),
			zap.Int("inliers", out.Pages[i].Inliers),
			zap.Float64("error", out.Pages[i].Error),
			zap.String("reason", string(out.Pages[i].Reason)))
	}

	out.Best, out.Recognized = Resolve(out.Pages)
	return out, nil
}

func (p *Pipeline) matchPage(m CorrespondenceMap, skipped bool) PageResult {
	r := PageResult{PageID: m.PageID, Correspondences: m.Len()}
	if skipped {
		r.Reason = ReasonSkipped
		return r
	}
	if m.Len() < p.opts.MinCorrespondences {
		r.Reason = ReasonTooFew
		return r
	}

	est, err := p.est.Estimate(m.Pairs)
	r.Trials = est.Trials
	if err != nil {
		r.Reason = ReasonEstimationFailed
		return r
	}
	r.Inliers = len(est.Inliers)
	r.H = est.H
	if r.Inliers < p.opts.MinInliers {
		r.Reason = ReasonTooFewInliers
		return r
	}

	inliers := make([]homography.Pair, len(est.Inliers))
	matches := make([]MatchRef, len(est.Inliers))
	for i, k := range est.Inliers {
		inliers[i] = m.Pairs[k]
		matches[i] = m.Matches[k]
	}

	h, err := homography.FitLeastSquares(inliers)
	if err != nil {
		r.Reason = ReasonPoseFitFailed
		return r
	}
	r.H = h
	r.Pose = h.Pose()
	r.Error = homography.MeanSquaredError(h, inliers)
	if !withinPoseError(r.Error, p.opts.MaxPoseError) {
		r.Reason = ReasonPoseErrorTooLarge
		return r
	}

	r.Valid = true
	r.Matches = matches
	return r
}

// withinPoseError reports whether a mean squared error is acceptable. NaN
// is never acceptable.
func withinPoseError(e, limit float64) bool {
	return e <= limit
}
