// Package config holds the pipeline and batch-driver configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full configuration file.
type Config struct {
	Detector            DetectorConfig   `yaml:"detector" json:"detector"`
	Matcher             MatcherConfig    `yaml:"matcher" json:"matcher"`
	Homography          HomographyConfig `yaml:"homography" json:"homography"`
	Template            TemplateConfig   `yaml:"template" json:"template"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold" json:"confidence_threshold"`

	Batch BatchConfig `yaml:"batch" json:"-"`
	Store StoreConfig `yaml:"store" json:"-"`
}

// DetectorConfig configures the oriented-box detector.
type DetectorConfig struct {
	CheckpointPath string  `yaml:"checkpoint_path" json:"checkpoint_path"`
	ConfThreshold  float64 `yaml:"conf_threshold" json:"conf_threshold"`
	PaddingFactor  float64 `yaml:"padding_factor" json:"padding_factor"`
	InputSize      int     `yaml:"input_size" json:"input_size"`
	IOUThreshold   float64 `yaml:"iou_threshold" json:"iou_threshold"`
}

// MatcherConfig configures the dense matcher.
type MatcherConfig struct {
	// Backend is "loftr" or "orb".
	Backend        string  `yaml:"backend" json:"backend"`
	Weights        string  `yaml:"weights" json:"weights"`
	ModelsDir      string  `yaml:"models_dir" json:"models_dir"`
	MatchThreshold float64 `yaml:"match_threshold" json:"match_threshold"`
	// MaxDimension bounds the longer side fed to the model.
	MaxDimension int `yaml:"max_dimension" json:"max_dimension"`
	// MaxFeatures and RatioTest only apply to the orb backend.
	MaxFeatures int     `yaml:"max_features" json:"max_features"`
	RatioTest   float64 `yaml:"ratio_test" json:"ratio_test"`
}

// HomographyConfig configures the RANSAC fit.
type HomographyConfig struct {
	RansacThreshold float64 `yaml:"ransac_threshold" json:"ransac_threshold"`
	MinInliers      int     `yaml:"min_inliers" json:"min_inliers"`
	MaxIterations   int     `yaml:"max_iterations" json:"max_iterations"`
	Seed            int64   `yaml:"seed" json:"seed"`
}

// TemplateConfig selects the reference template.
type TemplateConfig struct {
	TemplatesDir string `yaml:"templates_dir" json:"templates_dir"`
	Model        string `yaml:"model" json:"model"`
}

// BatchConfig configures cmd/batchpredict.
type BatchConfig struct {
	ImagesDir      string        `yaml:"images_dir"`
	LabelsDir      string        `yaml:"labels_dir"`
	OutputDir      string        `yaml:"output_dir"`
	CheckpointFreq int           `yaml:"checkpoint_freq"`
	ImageTimeout   time.Duration `yaml:"image_timeout"`
	MonitorAddr    string        `yaml:"monitor_addr"`
}

// StoreConfig configures the progress database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			CheckpointPath: filepath.Join("models", "yolo_watch_face_best.onnx"),
			ConfThreshold:  0.25,
			PaddingFactor:  1.5,
			InputSize:      640,
			IOUThreshold:   0.45,
		},
		Matcher: MatcherConfig{
			Backend:        "loftr",
			Weights:        "outdoor",
			ModelsDir:      "models",
			MatchThreshold: 0.2,
			MaxDimension:   640,
			MaxFeatures:    5000,
			RatioTest:      0.8,
		},
		Homography: HomographyConfig{
			RansacThreshold: 5.0,
			MinInliers:      10,
			MaxIterations:   2000,
		},
		Template: TemplateConfig{
			TemplatesDir: "templates",
			Model:        "nab",
		},
		ConfidenceThreshold: 0.7,
		Batch: BatchConfig{
			ImagesDir:      "downloaded_images",
			LabelsDir:      "alignment_labels",
			OutputDir:      "alignment_labels_predicted",
			CheckpointFreq: 10,
		},
		Store: StoreConfig{
			Path: ".batch_predict_progress.db",
		},
	}
}

// Load overlays the YAML file at path on the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv reads .env when present and applies WKP_* overrides.
func (c *Config) LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	c.ApplyEnv()
	return nil
}

// ApplyEnv applies WKP_* environment variables over the current values.
func (c *Config) ApplyEnv() {
	c.Detector.CheckpointPath = getEnv("WKP_DETECTOR_CHECKPOINT", c.Detector.CheckpointPath)
	c.Template.TemplatesDir = getEnv("WKP_TEMPLATES_DIR", c.Template.TemplatesDir)
	c.Template.Model = getEnv("WKP_TEMPLATE_MODEL", c.Template.Model)
	c.Matcher.Backend = getEnv("WKP_MATCHER_BACKEND", c.Matcher.Backend)
	c.Matcher.Weights = getEnv("WKP_MATCHER_WEIGHTS", c.Matcher.Weights)
	c.Matcher.ModelsDir = getEnv("WKP_MODELS_DIR", c.Matcher.ModelsDir)
	c.Matcher.MatchThreshold = getEnvAsFloat("WKP_MATCH_THRESHOLD", c.Matcher.MatchThreshold)
	c.Homography.MinInliers = getEnvAsInt("WKP_MIN_INLIERS", c.Homography.MinInliers)
	c.Store.Path = getEnv("WKP_STORE_PATH", c.Store.Path)
	c.Batch.MonitorAddr = getEnv("WKP_MONITOR_ADDR", c.Batch.MonitorAddr)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Detector.CheckpointPath == "" {
		return fmt.Errorf("%w: detector.checkpoint_path is required", ErrInvalid)
	}
	if c.Detector.ConfThreshold < 0 || c.Detector.ConfThreshold > 1 {
		return fmt.Errorf("%w: detector.conf_threshold must be between 0 and 1", ErrInvalid)
	}
	if c.Detector.PaddingFactor <= 0 {
		return fmt.Errorf("%w: detector.padding_factor must be positive", ErrInvalid)
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		return fmt.Errorf("%w: detector.input_size must be a positive multiple of 32", ErrInvalid)
	}
	switch c.Matcher.Backend {
	case "loftr", "orb":
	default:
		return fmt.Errorf("%w: matcher.backend must be loftr or orb, got %q", ErrInvalid, c.Matcher.Backend)
	}
	if c.Matcher.Weights == "" {
		return fmt.Errorf("%w: matcher.weights is required", ErrInvalid)
	}
	if c.Matcher.MatchThreshold < 0 || c.Matcher.MatchThreshold > 1 {
		return fmt.Errorf("%w: matcher.match_threshold must be between 0 and 1", ErrInvalid)
	}
	if c.Matcher.MaxDimension < 8 {
		return fmt.Errorf("%w: matcher.max_dimension must be at least 8", ErrInvalid)
	}
	if c.Matcher.RatioTest <= 0 || c.Matcher.RatioTest > 1 {
		return fmt.Errorf("%w: matcher.ratio_test must be in (0, 1]", ErrInvalid)
	}
	if c.Homography.RansacThreshold <= 0 {
		return fmt.Errorf("%w: homography.ransac_threshold must be positive", ErrInvalid)
	}
	if c.Homography.MinInliers < 4 {
		return fmt.Errorf("%w: homography.min_inliers must be at least 4", ErrInvalid)
	}
	if c.Template.Model == "" || c.Template.TemplatesDir == "" {
		return fmt.Errorf("%w: template.templates_dir and template.model are required", ErrInvalid)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be between 0 and 1", ErrInvalid)
	}
	if c.Batch.CheckpointFreq <= 0 {
		return fmt.Errorf("%w: batch.checkpoint_freq must be positive", ErrInvalid)
	}
	if c.Batch.ImageTimeout < 0 {
		return fmt.Errorf("%w: batch.image_timeout must not be negative", ErrInvalid)
	}
	return nil
}

// Hash returns a SHA-256 over the canonical JSON of the pipeline settings,
// so batch records can be traced to the configuration that produced them.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
