package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Matching MatchingConfig `yaml:"matching"`
	Ransac   RansacConfig   `yaml:"ransac"`
	Index    IndexConfig    `yaml:"index"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

type MatchingConfig struct {
	DescriptorThreshold float64 `yaml:"descriptor_threshold"` // squared L2, strict
	KNN                 int     `yaml:"knn"`
	MinCorrespondences  int     `yaml:"min_correspondences"`
	MinInliers          int     `yaml:"min_inliers"`
	MaxPoseError        float64 `yaml:"max_pose_error"` // px²
}

type RansacConfig struct {
	InlierThreshold float64 `yaml:"inlier_threshold"` // px²
	Confidence      float64 `yaml:"confidence"`
	MaxTrials       int     `yaml:"max_trials"`
	MinSampleRatio  float64 `yaml:"min_sample_ratio"`
	Seed            uint64  `yaml:"seed"` // 0 picks a random seed
}

type IndexConfig struct {
	MaxNeighbors    int    `yaml:"max_neighbors"`
	EfSearch        int    `yaml:"ef_search"`
	LinearScanLimit int    `yaml:"linear_scan_limit"` // subsets up to this size are scanned; negative always uses the graph
	CachePath       string `yaml:"cache_path"`        // optional, if empty the index is rebuilt on startup
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // localhost is always allowed
	FrameWidth     int      `yaml:"frame_width"`
	FrameHeight    int      `yaml:"frame_height"`
	FrameFormat    string   `yaml:"frame_format"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envUint64(key string, defaultVal uint64) uint64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded default configuration without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Matching = MatchingConfig{
		DescriptorThreshold: envFloat("MATCH_DESCRIPTOR_THRESHOLD", cfg.Matching.DescriptorThreshold),
		KNN:                 envInt("MATCH_KNN", cfg.Matching.KNN),
		MinCorrespondences:  envInt("MATCH_MIN_CORRESPONDENCES", cfg.Matching.MinCorrespondences),
		MinInliers:          envInt("MATCH_MIN_INLIERS", cfg.Matching.MinInliers),
		MaxPoseError:        envFloat("MATCH_MAX_POSE_ERROR", cfg.Matching.MaxPoseError),
	}
	cfg.Ransac = RansacConfig{
		InlierThreshold: envFloat("RANSAC_INLIER_THRESHOLD", cfg.Ransac.InlierThreshold),
		Confidence:      envFloat("RANSAC_CONFIDENCE", cfg.Ransac.Confidence),
		MaxTrials:       envInt("RANSAC_MAX_TRIALS", cfg.Ransac.MaxTrials),
		MinSampleRatio:  envFloat("RANSAC_MIN_SAMPLE_RATIO", cfg.Ransac.MinSampleRatio),
		Seed:            envUint64("RANSAC_SEED", cfg.Ransac.Seed),
	}
	cfg.Index = IndexConfig{
		MaxNeighbors:    envInt("INDEX_MAX_NEIGHBORS", cfg.Index.MaxNeighbors),
		EfSearch:        envInt("INDEX_EF_SEARCH", cfg.Index.EfSearch),
		LinearScanLimit: envInt("INDEX_LINEAR_SCAN_LIMIT", cfg.Index.LinearScanLimit),
		CachePath:       envString("INDEX_CACHE_PATH", cfg.Index.CachePath),
	}
	cfg.Logging = LoggingConfig{
		Level:       envString("LOG_LEVEL", cfg.Logging.Level),
		Development: envBool("LOG_DEVELOPMENT", cfg.Logging.Development),
	}
	cfg.Server = ServerConfig{
		Host:           envString("WEB_HOST", cfg.Server.Host),
		Port:           envInt("WEB_PORT", cfg.Server.Port),
		AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins),
		FrameWidth:     envInt("WEB_FRAME_WIDTH", cfg.Server.FrameWidth),
		FrameHeight:    envInt("WEB_FRAME_HEIGHT", cfg.Server.FrameHeight),
		FrameFormat:    envString("WEB_FRAME_FORMAT", cfg.Server.FrameFormat),
	}

	return cfg
}

// Validate reports the first setting that cannot produce a working matcher.
func (c *Config) Validate() error {
	switch {
	case c.Matching.DescriptorThreshold <= 0:
		return fmt.Errorf("%w: descriptor threshold must be positive", ErrInvalidConfig)
	case c.Matching.KNN < 1:
		return fmt.Errorf("%w: knn must be at least 1", ErrInvalidConfig)
	case c.Matching.MinCorrespondences < 4:
		return fmt.Errorf("%w: min correspondences must be at least 4, got %d", ErrInvalidConfig, c.Matching.MinCorrespondences)
	case c.Matching.MinInliers < 4:
		return fmt.Errorf("%w: min inliers must be at least 4, got %d", ErrInvalidConfig, c.Matching.MinInliers)
	case c.Matching.MaxPoseError <= 0:
		return fmt.Errorf("%w: max pose error must be positive", ErrInvalidConfig)
	case c.Ransac.InlierThreshold <= 0:
		return fmt.Errorf("%w: inlier threshold must be positive", ErrInvalidConfig)
	case c.Ransac.Confidence <= 0 || c.Ransac.Confidence >= 1:
		return fmt.Errorf("%w: confidence must be in (0, 1), got %g", ErrInvalidConfig, c.Ransac.Confidence)
	case c.Ransac.MaxTrials < 1:
		return fmt.Errorf("%w: max trials must be at least 1", ErrInvalidConfig)
	case c.Ransac.MinSampleRatio < 0:
		return fmt.Errorf("%w: min sample ratio must not be negative", ErrInvalidConfig)
	case c.Index.MaxNeighbors < 2:
		return fmt.Errorf("%w: index max neighbors must be at least 2", ErrInvalidConfig)
	case c.Index.EfSearch < 1:
		return fmt.Errorf("%w: index ef search must be at least 1", ErrInvalidConfig)
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	return nil
}
