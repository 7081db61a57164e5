package detector

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/constants"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/matching"
)

var ErrNoVisibleFeatures = errors.New("no page features visible in frame")

// CatalogOptions configures SynthCatalog.
type CatalogOptions struct {
	Pages           int
	FeaturesPerPage int
	Dim             int
	PageWidth       float64 // mm
	PageHeight      float64 // mm
	PixelsPerMM     float64 // source image resolution
	AmbiguousRatio  float64 // share of features with ambiguous polarity
	Seed            uint64
}

// DefaultCatalogOptions returns options for an A4-sized 64-dim catalog.
func DefaultCatalogOptions() CatalogOptions {
	return CatalogOptions{
		Pages:           4,
		FeaturesPerPage: 300,
		Dim:             constants.DescriptorDim,
		PageWidth:       210,
		PageHeight:      297,
		PixelsPerMM:     4,
		AmbiguousRatio:  0.1,
		Seed:            1,
	}
}

// SynthCatalog generates random pages with uniformly placed features and
// random unit-length descriptors. onPage, if set, is called after each page.
func SynthCatalog(opts CatalogOptions, onPage func(pageID int)) (*catalog.Catalog, error) {
	if opts.Pages < 1 || opts.FeaturesPerPage < 1 || opts.Dim < 1 {
		return nil, fmt.Errorf("synthetic catalog needs at least one page, feature and dimension")
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	c := catalog.New(opts.Dim)

	for id := range opts.Pages {
		img := catalog.Image{
			ID:     0,
			Width:  int(opts.PageWidth * opts.PixelsPerMM),
			Height: int(opts.PageHeight * opts.PixelsPerMM),
		}
		if err := c.AddPage(catalog.Page{ID: id, Images: []catalog.Image{img}}); err != nil {
			return nil, err
		}

		features := make([]catalog.Feature, opts.FeaturesPerPage)
		for i := range features {
			pos := r2.Vec{X: rng.Float64() * opts.PageWidth, Y: rng.Float64() * opts.PageHeight}
			features[i] = catalog.Feature{
				Descriptor: RandomDescriptor(rng, opts.Dim),
				Pos:        pos,
				ImagePos:   r2.Scale(opts.PixelsPerMM, pos),
				Polarity:   randomPolarity(rng, opts.AmbiguousRatio),
				PageID:     id,
			}
		}
		if err := c.Add(features...); err != nil {
			return nil, err
		}
		if onPage != nil {
			onPage(id)
		}
	}
	return c, nil
}

// RandomDescriptor returns a random unit vector of length dim.
func RandomDescriptor(rng *rand.Rand, dim int) []float32 {
	d := make([]float32, dim)
	var norm float64
	for i := range d {
		v := rng.NormFloat64()
		d[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		d[0] = 1
		return d
	}
	for i := range d {
		d[i] = float32(float64(d[i]) / norm)
	}
	return d
}

func randomPolarity(rng *rand.Rand, ambiguous float64) catalog.Polarity {
	if rng.Float64() < ambiguous {
		return catalog.PolarityAmbiguous
	}
	if rng.IntN(2) == 0 {
		return catalog.PolarityA
	}
	return catalog.PolarityB
}

// SceneOptions configures NewScene.
type SceneOptions struct {
	Width, Height   int     // frame size, px
	Outliers        int     // random features not on the page
	Mismatches      int     // catalog descriptors reported at random positions
	MaxFeatures     int     // cap on visible page features, 0 for all
	DescriptorNoise float64 // per-component Gaussian sigma
	PositionNoise   float64 // px, Gaussian sigma
	Perspective     float64 // corner jitter as a share of the frame size
}

// DefaultSceneOptions returns options for a 640x480 frame.
func DefaultSceneOptions() SceneOptions {
	return SceneOptions{
		Width:           640,
		Height:          480,
		Outliers:        40,
		Mismatches:      20,
		MaxFeatures:     150,
		DescriptorNoise: 0.03,
		PositionNoise:   0.5,
		Perspective:     0.04,
	}
}

// Scene is a synthetic detector output for a frame showing one page.
type Scene struct {
	PageID   int
	H        homography.Matrix // page mm -> frame px
	Features []matching.QueryFeature
	Inliers  int // features that come from the page
}

// NewScene places page pageID into a frame through a random homography and
// returns what a detector would report: noisy copies of the visible page
// features plus random outliers, shuffled.
func NewScene(rng *rand.Rand, cat *catalog.Catalog, pageID int, opts SceneOptions) (Scene, error) {
	page, ok := cat.Page(pageID)
	if !ok {
		return Scene{}, fmt.Errorf("%w: %d", catalog.ErrUnknownPage, pageID)
	}

	var feats []catalog.Feature
	var maxX, maxY float64
	for _, f := range cat.Features() {
		if f.PageID != page.ID {
			continue
		}
		feats = append(feats, f)
		maxX = math.Max(maxX, f.Pos.X)
		maxY = math.Max(maxY, f.Pos.Y)
	}
	if len(feats) == 0 || maxX == 0 || maxY == 0 {
		return Scene{}, ErrNoVisibleFeatures
	}

	h, err := randomView(rng, maxX, maxY, opts)
	if err != nil {
		return Scene{}, err
	}

	scene := Scene{PageID: pageID, H: h}
	rng.Shuffle(len(feats), func(i, j int) { feats[i], feats[j] = feats[j], feats[i] })
	for _, f := range feats {
		if opts.MaxFeatures > 0 && scene.Inliers >= opts.MaxFeatures {
			break
		}
		p, ok := h.Apply(f.Pos)
		if !ok || p.X < 0 || p.Y < 0 || p.X >= float64(opts.Width) || p.Y >= float64(opts.Height) {
			continue
		}
		p.X += rng.NormFloat64() * opts.PositionNoise
		p.Y += rng.NormFloat64() * opts.PositionNoise

		pol := f.Polarity
		if pol == catalog.PolarityAmbiguous {
			pol = randomPolarity(rng, 0)
		}
		scene.Features = append(scene.Features, matching.QueryFeature{
			Pos:        p,
			Descriptor: noisy(rng, f.Descriptor, opts.DescriptorNoise),
			Polarity:   pol,
		})
		scene.Inliers++
	}
	if scene.Inliers == 0 {
		return Scene{}, ErrNoVisibleFeatures
	}

	for range opts.Outliers {
		scene.Features = append(scene.Features, matching.QueryFeature{
			Pos:        r2.Vec{X: rng.Float64() * float64(opts.Width), Y: rng.Float64() * float64(opts.Height)},
			Descriptor: RandomDescriptor(rng, cat.Dim()),
			Polarity:   randomPolarity(rng, 0),
		})
	}
	all := cat.Features()
	for range opts.Mismatches {
		f := all[rng.IntN(len(all))]
		pol := f.Polarity
		if pol == catalog.PolarityAmbiguous {
			pol = randomPolarity(rng, 0)
		}
		scene.Features = append(scene.Features, matching.QueryFeature{
			Pos:        r2.Vec{X: rng.Float64() * float64(opts.Width), Y: rng.Float64() * float64(opts.Height)},
			Descriptor: noisy(rng, f.Descriptor, opts.DescriptorNoise),
			Polarity:   pol,
		})
	}
	rng.Shuffle(len(scene.Features), func(i, j int) {
		scene.Features[i], scene.Features[j] = scene.Features[j], scene.Features[i]
	})
	return scene, nil
}

// randomView maps the page rectangle [0,w]x[0,h] (mm) to a rotated, scaled
// quad that fits in the frame, with each corner jittered for perspective.
func randomView(rng *rand.Rand, w, h float64, opts SceneOptions) (homography.Matrix, error) {
	fw, fh := float64(opts.Width), float64(opts.Height)
	angle := (rng.Float64()*2 - 1) * 0.3
	cos, sin := math.Cos(angle), math.Sin(angle)
	// scale relative to the bounding box of the rotated page
	bw := w*math.Abs(cos) + h*math.Abs(sin)
	bh := w*math.Abs(sin) + h*math.Abs(cos)
	scale := math.Min(fw/bw, fh/bh) * (0.8 + rng.Float64()*0.5)
	center := r2.Vec{X: fw / 2, Y: fh / 2}

	corners := [4]r2.Vec{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	var sample [4]homography.Pair
	for i, c := range corners {
		d := r2.Vec{X: c.X - w/2, Y: c.Y - h/2}
		q := r2.Vec{
			X: center.X + scale*(cos*d.X-sin*d.Y) + (rng.Float64()*2-1)*opts.Perspective*fw,
			Y: center.Y + scale*(sin*d.X+cos*d.Y) + (rng.Float64()*2-1)*opts.Perspective*fh,
		}
		sample[i] = homography.Pair{Ref: c, Frame: q}
	}
	return homography.Solve4(sample)
}

func noisy(rng *rand.Rand, d []float32, sigma float64) []float32 {
	out := make([]float32, len(d))
	for i, v := range d {
		out[i] = v + float32(rng.NormFloat64()*sigma)
	}
	return out
}
