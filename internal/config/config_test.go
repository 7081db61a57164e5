package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	want := &Config{
		Matching: MatchingConfig{
			DescriptorThreshold: 0.5,
			KNN:                 1,
			MinCorrespondences:  4,
			MinInliers:          6,
			MaxPoseError:        10,
		},
		Ransac: RansacConfig{
			InlierThreshold: 100,
			Confidence:      0.99,
			MaxTrials:       200,
			MinSampleRatio:  0.03,
		},
		Index: IndexConfig{
			MaxNeighbors:    16,
			EfSearch:        100,
			LinearScanLimit: 4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{},
			FrameWidth:     640,
			FrameHeight:    480,
			FrameFormat:    "MONO",
		},
	}

	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MATCH_KNN", "3")
	t.Setenv("MATCH_DESCRIPTOR_THRESHOLD", "0.25")
	t.Setenv("RANSAC_SEED", "42")
	t.Setenv("INDEX_CACHE_PATH", "/tmp/pages.idx")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	if cfg.Matching.KNN != 3 {
		t.Errorf("expected knn 3, got %d", cfg.Matching.KNN)
	}
	if cfg.Matching.DescriptorThreshold != 0.25 {
		t.Errorf("expected threshold 0.25, got %g", cfg.Matching.DescriptorThreshold)
	}
	if cfg.Ransac.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Ransac.Seed)
	}
	if cfg.Index.CachePath != "/tmp/pages.idx" {
		t.Errorf("expected cache path override, got %q", cfg.Index.CachePath)
	}
	if !cfg.Logging.Development {
		t.Error("expected development logging")
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins); diff != "" {
		t.Errorf("allowed origins mismatch (-want +got):\n%s", diff)
	}
	// untouched keys keep their defaults
	if cfg.Ransac.MaxTrials != 200 {
		t.Errorf("expected max trials 200, got %d", cfg.Ransac.MaxTrials)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCH_KNN", "zero")
	t.Setenv("RANSAC_MAX_TRIALS", "-5")
	t.Setenv("RANSAC_CONFIDENCE", "abc")

	cfg := Load()

	if cfg.Matching.KNN != 1 {
		t.Errorf("expected default knn, got %d", cfg.Matching.KNN)
	}
	if cfg.Ransac.MaxTrials != 200 {
		t.Errorf("expected default max trials, got %d", cfg.Ransac.MaxTrials)
	}
	if cfg.Ransac.Confidence != 0.99 {
		t.Errorf("expected default confidence, got %g", cfg.Ransac.Confidence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"confidence one", func(c *Config) { c.Ransac.Confidence = 1 }},
		{"confidence zero", func(c *Config) { c.Ransac.Confidence = 0 }},
		{"three correspondences", func(c *Config) { c.Matching.MinCorrespondences = 3 }},
		{"three inliers", func(c *Config) { c.Matching.MinInliers = 3 }},
		{"zero knn", func(c *Config) { c.Matching.KNN = 0 }},
		{"negative threshold", func(c *Config) { c.Matching.DescriptorThreshold = -1 }},
		{"zero trials", func(c *Config) { c.Ransac.MaxTrials = 0 }},
		{"tiny graph", func(c *Config) { c.Index.MaxNeighbors = 1 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
