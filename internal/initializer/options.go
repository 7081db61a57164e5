package initializer

import (
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/config"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/index"
	"github.com/kozaktomas/pagefinder/internal/matching"
)

// IndexOptions maps the matching and index sections of cfg to index options.
func IndexOptions(cfg *config.Config, logger *zap.Logger) index.Options {
	return index.Options{
		Threshold:       cfg.Matching.DescriptorThreshold,
		MaxNeighbors:    cfg.Index.MaxNeighbors,
		EfSearch:        cfg.Index.EfSearch,
		LinearScanLimit: cfg.Index.LinearScanLimit,
		Logger:          logger,
	}
}

// EstimatorOptions maps the ransac section of cfg to estimator options.
func EstimatorOptions(cfg *config.Config) homography.Options {
	return homography.Options{
		InlierThreshold: cfg.Ransac.InlierThreshold,
		Confidence:      cfg.Ransac.Confidence,
		MaxTrials:       cfg.Ransac.MaxTrials,
		MinSampleRatio:  cfg.Ransac.MinSampleRatio,
		Seed:            cfg.Ransac.Seed,
	}
}

// PipelineOptions maps the matching section of cfg to pipeline options.
func PipelineOptions(cfg *config.Config, logger *zap.Logger) matching.Options {
	return matching.Options{
		KNN:                cfg.Matching.KNN,
		MinCorrespondences: cfg.Matching.MinCorrespondences,
		MinInliers:         cfg.Matching.MinInliers,
		MaxPoseError:       cfg.Matching.MaxPoseError,
		Logger:             logger,
	}
}
