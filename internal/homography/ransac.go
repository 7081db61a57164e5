package homography

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/constants"
)

// Options configures the RANSAC estimator.
type Options struct {
	// InlierThreshold is the exclusive bound on squared reprojection error (px²).
	InlierThreshold float64
	// Confidence is the target probability of drawing one all-inlier sample.
	Confidence float64
	// MaxTrials caps random sampling.
	MaxTrials int
	// MinSampleRatio is the collinearity bound passed to IsGoodSample.
	MinSampleRatio float64
	// Seed seeds the sampler. Zero picks a random seed.
	Seed uint64
}

// DefaultOptions returns the default estimator options.
func DefaultOptions() Options {
	return Options{
		InlierThreshold: constants.DefaultInlierThreshold,
		Confidence:      constants.DefaultConfidence,
		MaxTrials:       constants.DefaultMaxTrials,
		MinSampleRatio:  constants.DefaultMinSampleRatio,
	}
}

// Result is the outcome of one estimation.
type Result struct {
	H       Matrix
	Inliers []int // indices into the input pairs, ascending
	Trials  int   // samples evaluated
}

// Estimator runs RANSAC homography estimation. It owns its random source
// and inlier scratch buffer, so one Estimator must not be used from several
// goroutines at once.
type Estimator struct {
	opts    Options
	rng     *rand.Rand
	scratch []int
}

// NewEstimator creates an estimator. Out-of-range options fall back to defaults.
func NewEstimator(opts Options) *Estimator {
	def := DefaultOptions()
	if opts.InlierThreshold <= 0 {
		opts.InlierThreshold = def.InlierThreshold
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = def.Confidence
	}
	if opts.MaxTrials < 1 {
		opts.MaxTrials = def.MaxTrials
	}
	if opts.MinSampleRatio < 0 {
		opts.MinSampleRatio = def.MinSampleRatio
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Estimator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Options returns the effective options.
func (e *Estimator) Options() Options { return e.opts }

// Estimate fits a homography mapping Ref onto Frame for the given pairs.
//
// Four pairs are solved directly. Five to nine pairs enumerate every 4-subset,
// stopping early once the adaptive trial bound drops below the number of
// subsets tried. Ten or more pairs draw random samples, lowering the trial
// limit from the best inlier ratio seen so far, up to MaxTrials.
func (e *Estimator) Estimate(pairs []Pair) (Result, error) {
	n := len(pairs)
	switch {
	case n < 4:
		return Result{}, ErrTooFewCorrespondences
	case n == 4:
		return e.direct(pairs)
	case n < constants.ExhaustiveLimit:
		return e.exhaustive(pairs)
	default:
		return e.random(pairs)
	}
}

func (e *Estimator) direct(pairs []Pair) (Result, error) {
	sample := [4]Pair{pairs[0], pairs[1], pairs[2], pairs[3]}
	h, err := e.fit(sample)
	if err != nil {
		return Result{Trials: 1}, err
	}
	return Result{H: h, Inliers: []int{0, 1, 2, 3}, Trials: 1}, nil
}

// fit checks both point sets of the sample for degeneracy and solves it.
func (e *Estimator) fit(sample [4]Pair) (Matrix, error) {
	var ref, frame [4]r2.Vec
	for i, p := range sample {
		ref[i], frame[i] = p.Ref, p.Frame
	}
	if !IsGoodSample(ref, e.opts.MinSampleRatio) || !IsGoodSample(frame, e.opts.MinSampleRatio) {
		return Matrix{}, ErrDegenerateSample
	}
	return Solve4(sample)
}

// best tracks the best model found so far.
type best struct {
	h       Matrix
	inliers []int
	found   bool
}

func (b *best) offer(h Matrix, inliers []int) bool {
	if b.found && len(inliers) <= len(b.inliers) {
		return false
	}
	b.h = h
	b.inliers = append(b.inliers[:0], inliers...)
	b.found = true
	return true
}

func (b *best) result(trials int) (Result, error) {
	if !b.found {
		return Result{Trials: trials}, ErrNoConsensus
	}
	return Result{H: b.h, Inliers: b.inliers, Trials: trials}, nil
}

func (e *Estimator) exhaustive(pairs []Pair) (Result, error) {
	n := len(pairs)
	var b best
	tried := 0
	for i0 := 0; i0 < n-3; i0++ {
		for i1 := i0 + 1; i1 < n-2; i1++ {
			for i2 := i1 + 1; i2 < n-1; i2++ {
				for i3 := i2 + 1; i3 < n; i3++ {
					e.evaluate(pairs, [4]int{i0, i1, i2, i3}, &b)
					tried++
					if b.found && e.requiredTrials(len(b.inliers), n) < tried {
						return b.result(tried)
					}
				}
			}
		}
	}
	return b.result(tried)
}

func (e *Estimator) random(pairs []Pair) (Result, error) {
	n := len(pairs)
	var b best
	limit := e.opts.MaxTrials
	trials := 0
	for trials < limit {
		idx := e.sample(n)
		trials++
		if !e.evaluate(pairs, idx, &b) {
			continue
		}
		if req := e.requiredTrials(len(b.inliers), n); req < limit {
			limit = req
		}
	}
	return b.result(trials)
}

// evaluate fits the sample and offers its inlier set to b. It reports
// whether b improved.
func (e *Estimator) evaluate(pairs []Pair, idx [4]int, b *best) bool {
	sample := [4]Pair{pairs[idx[0]], pairs[idx[1]], pairs[idx[2]], pairs[idx[3]]}
	h, err := e.fit(sample)
	if err != nil {
		return false
	}
	return b.offer(h, e.inliers(h, pairs))
}

// inliers collects the indices of pairs within the inlier threshold into
// the scratch buffer. The returned slice is only valid until the next call.
func (e *Estimator) inliers(h Matrix, pairs []Pair) []int {
	if cap(e.scratch) < len(pairs) {
		e.scratch = make([]int, 0, len(pairs))
	}
	e.scratch = e.scratch[:0]
	for i, p := range pairs {
		if h.SquaredError(p) < e.opts.InlierThreshold {
			e.scratch = append(e.scratch, i)
		}
	}
	return e.scratch
}

// sample draws four distinct indices below n.
func (e *Estimator) sample(n int) [4]int {
	var idx [4]int
	for i := range idx {
	draw:
		for {
			v := e.rng.IntN(n)
			for j := range i {
				if idx[j] == v {
					continue draw
				}
			}
			idx[i] = v
			break
		}
	}
	return idx
}

// requiredTrials is log(1 - confidence) / log(1 - e⁴) for inlier ratio e.
func (e *Estimator) requiredTrials(inliers, n int) int {
	ratio := float64(inliers) / float64(n)
	if ratio >= 1 {
		return 0
	}
	denom := math.Log(1 - math.Pow(ratio, 4))
	if denom == 0 {
		return math.MaxInt
	}
	req := math.Log(1-e.opts.Confidence) / denom
	if req > float64(math.MaxInt32) {
		return math.MaxInt
	}
	return int(req)
}
