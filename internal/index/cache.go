package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"time"

	"github.com/coder/hnsw"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/constants"
)

// Metadata stores what a cached index was built from, for staleness detection.
type Metadata struct {
	FeatureCount int       `json:"feature_count"`
	PageCount    int       `json:"page_count"`
	Dim          int       `json:"dim"`
	SubsetA      int       `json:"subset_a"`
	SubsetB      int       `json:"subset_b"`
	Fingerprint  string    `json:"fingerprint"`
	BuildTime    time.Time `json:"build_time"`
	Version      int       `json:"version"` // For future compatibility
}

// matches reports whether two metadata records describe the same catalog.
func (m Metadata) matches(o Metadata) bool {
	return m.Version == o.Version &&
		m.FeatureCount == o.FeatureCount &&
		m.PageCount == o.PageCount &&
		m.Dim == o.Dim &&
		m.SubsetA == o.SubsetA &&
		m.SubsetB == o.SubsetB &&
		m.Fingerprint == o.Fingerprint
}

// Fingerprint hashes the parts of a catalog that determine the index graphs:
// descriptors, polarities and feature order.
func Fingerprint(cat *catalog.Catalog) string {
	h := fnv.New64a()
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(cat.Dim()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(cat.Len()))
	_, _ = h.Write(buf)
	for _, f := range cat.Features() {
		buf = buf[:0]
		buf = append(buf, byte(f.Polarity))
		for _, v := range f.Descriptor {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		_, _ = h.Write(buf)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func metadataFor(cat *catalog.Catalog) Metadata {
	m := Metadata{
		FeatureCount: cat.Len(),
		PageCount:    cat.NumPages(),
		Dim:          cat.Dim(),
		Fingerprint:  Fingerprint(cat),
		Version:      constants.HNSWMetadataVersion,
	}
	for _, f := range cat.Features() {
		if f.Polarity.InSubsetA() {
			m.SubsetA++
		}
		if f.Polarity.InSubsetB() {
			m.SubsetB++
		}
	}
	return m
}

// Save persists both graphs (path.a, path.b) and the metadata (path.meta).
func (d *DualIndex) Save(path string) error {
	if err := exportGraph(d.a.graph, path+".a"); err != nil {
		return err
	}
	if err := exportGraph(d.b.graph, path+".b"); err != nil {
		return err
	}

	meta := metadataFor(d.cat)
	meta.BuildTime = time.Now().UTC()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	d.logger.Debug("saved matching index", zap.String("path", path), zap.Int("features", meta.FeatureCount))
	return nil
}

func exportGraph(g *hnsw.Graph[int], path string) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	if err := g.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	return nil
}

// LoadMetadata reads the metadata written next to a cached index.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// Load restores an index saved with Save for the given catalog. A cache
// built from a different catalog fails with ErrStaleIndex.
func Load(path string, cat *catalog.Catalog, opts Options) (*DualIndex, error) {
	opts = opts.withDefaults()

	meta, err := LoadMetadata(path)
	if err != nil {
		return nil, err
	}
	if want := metadataFor(cat); !meta.matches(want) {
		return nil, fmt.Errorf("%w: cache has %d features (fingerprint %s), catalog has %d (fingerprint %s)",
			ErrStaleIndex, meta.FeatureCount, meta.Fingerprint, want.FeatureCount, want.Fingerprint)
	}

	a, err := loadGraph(path+".a", meta.SubsetA)
	if err != nil {
		return nil, err
	}
	b, err := loadGraph(path+".b", meta.SubsetB)
	if err != nil {
		return nil, err
	}
	a.EfSearch = opts.EfSearch
	b.EfSearch = opts.EfSearch

	opts.Logger.Debug("loaded matching index",
		zap.String("path", path),
		zap.Time("built", meta.BuildTime),
		zap.Int("subset_a", meta.SubsetA),
		zap.Int("subset_b", meta.SubsetB))

	// metadata matched, so the subsets have the sizes the graphs were built with
	return &DualIndex{
		cat:    cat,
		a:      subset{graph: a, keys: subsetKeys(cat, catalog.Polarity.InSubsetA)},
		b:      subset{graph: b, keys: subsetKeys(cat, catalog.Polarity.InSubsetB)},
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

func loadGraph(path string, want int) (*hnsw.Graph[int], error) {
	// LoadSavedGraph creates missing files, so check first.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("HNSW index file not found: %w", err)
	}
	saved, err := hnsw.LoadSavedGraph[int](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != want {
		return nil, fmt.Errorf("%w: %s holds %d nodes, expected %d", ErrStaleIndex, path, saved.Len(), want)
	}
	return saved.Graph, nil
}
