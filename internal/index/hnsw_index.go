// Package index implements the dual matching index: one HNSW graph per
// polarity subset of a reference catalog, queried by descriptor.
package index

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/constants"
	"github.com/kozaktomas/pagefinder/internal/logging"
)

var (
	ErrEmptySubset       = errors.New("polarity subset has no features")
	ErrDescriptorLength  = errors.New("query descriptor length does not match catalog")
	ErrInvalidPolarity   = errors.New("invalid query polarity")
	ErrStaleIndex        = errors.New("index cache does not match catalog")
	ErrIndexNotAvailable = errors.New("index not initialized")
)

// Query is one frame feature to look up.
type Query struct {
	Descriptor []float32
	Polarity   catalog.Polarity
}

// MatchRecord pairs a query feature with a reference feature. Distance is
// the exact squared Euclidean descriptor distance.
type MatchRecord struct {
	Query    int
	Ref      int
	Distance float64
}

// Options configures index construction and queries.
type Options struct {
	// Threshold is the exclusive upper bound on squared descriptor distance.
	Threshold    float64
	MaxNeighbors int
	// EfSearch is the candidate count fetched from a graph per query. The
	// candidates are re-ranked by exact distance before the k best are kept.
	EfSearch int
	// LinearScanLimit is the subset size up to which queries scan the subset
	// exhaustively instead of walking the graph. Zero picks the default,
	// negative always uses the graph.
	LinearScanLimit int
	Logger          *zap.Logger
}

// DefaultOptions returns the default index options.
func DefaultOptions() Options {
	return Options{
		Threshold:       constants.DefaultDescriptorThreshold,
		MaxNeighbors:    constants.HNSWMaxNeighbors,
		EfSearch:        constants.HNSWEfSearch,
		LinearScanLimit: constants.LinearScanLimit,
	}
}

// DualIndex holds one graph for subset A (polarity A or ambiguous) and one
// for subset B (polarity B or ambiguous). Graph keys are catalog feature
// indices. The index is immutable once built or loaded, so concurrent Match
// calls need no locking; rebuild it when the catalog changes.
type DualIndex struct {
	cat    *catalog.Catalog
	a, b   subset
	opts   Options
	logger *zap.Logger
}

// subset is one polarity half of the index.
type subset struct {
	graph *hnsw.Graph[int]
	keys  []int // catalog feature indices in the subset, ascending
}

func (s subset) size() int { return len(s.keys) }

// subsetKeys lists the catalog features that belong to one polarity subset.
func subsetKeys(cat *catalog.Catalog, in func(catalog.Polarity) bool) []int {
	var keys []int
	for i, f := range cat.Features() {
		if in(f.Polarity) {
			keys = append(keys, i)
		}
	}
	return keys
}

func newGraph(opts Options) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = opts.MaxNeighbors
	g.Ml = 1.0 / float64(opts.MaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	g.EfSearch = opts.EfSearch
	return g
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Threshold <= 0 {
		o.Threshold = def.Threshold
	}
	if o.MaxNeighbors < 2 {
		o.MaxNeighbors = def.MaxNeighbors
	}
	if o.EfSearch < 1 {
		o.EfSearch = def.EfSearch
	}
	if o.LinearScanLimit == 0 {
		o.LinearScanLimit = def.LinearScanLimit
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Build indexes every feature of cat. An empty catalog or an empty subset
// fails with ErrEmptySubset.
func Build(cat *catalog.Catalog, opts Options) (*DualIndex, error) {
	opts = opts.withDefaults()
	if cat == nil || cat.Len() == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrEmptySubset)
	}

	d := &DualIndex{
		cat:    cat,
		a:      subset{graph: newGraph(opts), keys: subsetKeys(cat, catalog.Polarity.InSubsetA)},
		b:      subset{graph: newGraph(opts), keys: subsetKeys(cat, catalog.Polarity.InSubsetB)},
		opts:   opts,
		logger: opts.Logger,
	}
	if d.a.size() == 0 {
		return nil, fmt.Errorf("%w: subset A", ErrEmptySubset)
	}
	if d.b.size() == 0 {
		return nil, fmt.Errorf("%w: subset B", ErrEmptySubset)
	}

	for _, s := range []subset{d.a, d.b} {
		for _, i := range s.keys {
			s.graph.Add(hnsw.MakeNode(i, cat.Feature(i).Descriptor))
		}
	}

	d.logger.Debug("built matching index",
		zap.Int("features", cat.Len()),
		zap.Int("subset_a", d.a.size()),
		zap.Int("subset_b", d.b.size()),
		zap.Int("linear_scan_limit", opts.LinearScanLimit))
	return d, nil
}

// Catalog returns the catalog the index was built from.
func (d *DualIndex) Catalog() *catalog.Catalog { return d.cat }

// SubsetSizes returns the number of features in subsets A and B.
func (d *DualIndex) SubsetSizes() (int, int) { return d.a.size(), d.b.size() }

// Threshold returns the exclusive squared-distance bound applied to matches.
func (d *DualIndex) Threshold() float64 { return d.opts.Threshold }

// Match returns, for every query, up to k records ordered by ascending
// distance. Queries of polarity A search subset A, polarity B searches subset
// B and ambiguous queries search both, keeping the closer references. Every
// record satisfies Distance < Threshold; a query without a match gets an
// empty slice.
func (d *DualIndex) Match(queries []Query, k int) ([][]MatchRecord, error) {
	if k < 1 {
		k = 1
	}

	if d.a.graph == nil || d.b.graph == nil {
		return nil, ErrIndexNotAvailable
	}

	out := make([][]MatchRecord, len(queries))
	for i, q := range queries {
		if len(q.Descriptor) != d.cat.Dim() {
			return nil, fmt.Errorf("%w: query %d has %d, catalog has %d", ErrDescriptorLength, i, len(q.Descriptor), d.cat.Dim())
		}

		switch q.Polarity {
		case catalog.PolarityA:
			out[i] = d.search(d.a, i, q.Descriptor, k)
		case catalog.PolarityB:
			out[i] = d.search(d.b, i, q.Descriptor, k)
		case catalog.PolarityAmbiguous:
			out[i] = mergeRecords(d.search(d.a, i, q.Descriptor, k), d.search(d.b, i, q.Descriptor, k), k)
		default:
			return nil, fmt.Errorf("%w: query %d has %d", ErrInvalidPolarity, i, q.Polarity)
		}
	}
	return out, nil
}

// search returns the k closest references of one subset below the threshold.
// Small subsets are scanned exhaustively. Larger ones fetch EfSearch graph
// candidates, since coder/hnsw stops expanding early once it holds k results,
// and re-rank them by exact distance.
func (d *DualIndex) search(s subset, qi int, desc []float32, k int) []MatchRecord {
	var records []MatchRecord
	if d.opts.LinearScanLimit > 0 && s.size() <= d.opts.LinearScanLimit {
		for _, key := range s.keys {
			records = d.appendIfClose(records, qi, desc, key)
		}
	} else {
		for _, n := range s.graph.Search(desc, max(k, d.opts.EfSearch)) {
			records = d.appendIfClose(records, qi, desc, n.Key)
		}
	}
	sortRecords(records)
	if len(records) > k {
		records = records[:k]
	}
	return records
}

// appendIfClose recomputes the distance from the catalog so the threshold is exact.
func (d *DualIndex) appendIfClose(records []MatchRecord, qi int, desc []float32, key int) []MatchRecord {
	dist := SquaredDistance(desc, d.cat.Feature(key).Descriptor)
	if dist < d.opts.Threshold {
		records = append(records, MatchRecord{Query: qi, Ref: key, Distance: dist})
	}
	return records
}

// mergeRecords combines two sorted lists, drops duplicate references and keeps the k closest.
func mergeRecords(a, b []MatchRecord, k int) []MatchRecord {
	merged := make([]MatchRecord, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sortRecords(merged)
	merged = slices.CompactFunc(merged, func(x, y MatchRecord) bool { return x.Ref == y.Ref })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func sortRecords(records []MatchRecord) {
	slices.SortFunc(records, func(x, y MatchRecord) int {
		if c := cmp.Compare(x.Distance, y.Distance); c != 0 {
			return c
		}
		return cmp.Compare(x.Ref, y.Ref)
	})
}
