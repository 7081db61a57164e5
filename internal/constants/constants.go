// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Descriptor constants
const (
	// DescriptorDim is the descriptor length of the legacy catalog format
	// (64 float components per feature)
	DescriptorDim = 64

	// DefaultDescriptorThreshold is the default maximum squared Euclidean
	// descriptor distance for a match. Comparison is strict.
	DefaultDescriptorThreshold = 0.5

	// DefaultKNN is the default number of neighbours requested per query feature
	DefaultKNN = 1
)

// Homography estimation constants
const (
	// MinCorrespondences is the smallest correspondence count a homography can
	// be estimated from
	MinCorrespondences = 4

	// DefaultMinInliers is the default minimum RANSAC inlier count for a page
	// to be considered recognized
	DefaultMinInliers = 6

	// DefaultInlierThreshold is the default squared reprojection distance (px²)
	// under which a correspondence is an inlier
	DefaultInlierThreshold = 100.0

	// DefaultConfidence is the target probability of drawing at least one
	// all-inlier sample
	DefaultConfidence = 0.99

	// DefaultMaxTrials is the absolute cap on random RANSAC trials
	DefaultMaxTrials = 200

	// DefaultMinSampleRatio is the minimum |cross|/|edge|² ratio of every
	// point triple in a 4-point sample
	DefaultMinSampleRatio = 0.03

	// ExhaustiveLimit is the correspondence count at which estimation switches
	// from enumerating all 4-subsets to random sampling
	ExhaustiveLimit = 10

	// DefaultMaxPoseError is the default maximum mean squared reprojection
	// error (px²) of the least-squares refit
	DefaultMaxPoseError = 10.0
)

// HNSW index constants
const (
	// HNSWMaxNeighbors is the maximum number of neighbors per node (M parameter)
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the size of the dynamic candidate list during search
	HNSWEfSearch = 100

	// LinearScanLimit is the polarity subset size up to which the index
	// scans every feature instead of searching the graph
	LinearScanLimit = 4096

	// HNSWMetadataVersion is bumped whenever the index cache layout changes
	HNSWMetadataVersion = 1
)

// AllPages selects every page in page renumbering operations.
const AllPages = -1
