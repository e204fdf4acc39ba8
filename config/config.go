package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ErrValidation marks configuration the service must refuse before doing any
// model or network work. Check with errors.Is.
var ErrValidation = errors.New("config: invalid configuration")

const (
	DefaultThreshold      = 0.5
	DefaultImageSize      = 448
	DefaultBatchSize      = 1
	DefaultMaxImagePixels = 120_000_000

	DefaultModelRepo     = "fancyfeast/joytag"
	DefaultModelFile     = "model.onnx"
	DefaultModelHash     = "8e2b9f1d4c6a3e7f0b5d8a1c9e4f2b7d6a0c3e8f1b4d7a2c5e9f0b3d6a8c1e4f"
	DefaultModelMinBytes = 10 << 20
	DefaultVocabFile     = "top_tags.txt"
	DefaultVocabHash     = "3c7e1a9f5b2d8e4c0a6f3b9d1e7c4a8f2b5e0d9c6a3f1e8b4d7c2a5f9e0b3d6c"
	DefaultVocabMinBytes = 1 << 10
)

// supportedImageSizes are the model input resolutions the preprocessing
// pipeline knows how to produce.
var supportedImageSizes = map[int]bool{224: true, 384: true, 448: true}

type Config struct {
	Threshold float32 `toml:"threshold"`
	Device    string  `toml:"device"`
	ImageSize int     `toml:"image_size"`
	TopN      int     `toml:"top_n"`
	BatchSize int     `toml:"batch_size"`

	OverridesPath  string `toml:"overrides"`
	MaxImagePixels int64  `toml:"max_image_pixels"`
	CacheDir       string `toml:"cache_dir"`
	Libonnx        string `toml:"libonnx"`

	ModelRepo     string `toml:"model_repo"`
	ModelFile     string `toml:"model_file"`
	ModelHash     string `toml:"model_hash"`
	ModelMinBytes int64  `toml:"model_min_bytes"`
	VocabFile     string `toml:"vocab_file"`
	VocabHash     string `toml:"vocab_hash"`
	VocabMinBytes int64  `toml:"vocab_min_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Threshold:      DefaultThreshold,
		ImageSize:      DefaultImageSize,
		BatchSize:      DefaultBatchSize,
		MaxImagePixels: DefaultMaxImagePixels,
		CacheDir:       defaultCacheDir(),
		ModelRepo:      DefaultModelRepo,
		ModelFile:      DefaultModelFile,
		ModelHash:      DefaultModelHash,
		ModelMinBytes:  DefaultModelMinBytes,
		VocabFile:      DefaultVocabFile,
		VocabHash:      DefaultVocabHash,
		VocabMinBytes:  DefaultVocabMinBytes,
	}
}

// Load overlays a TOML file onto the defaults. An empty path falls back to
// config.toml in the working directory when present; a missing file there is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = "config.toml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: cannot read %s: %v", ErrValidation, path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: cannot parse %s: %v", ErrValidation, path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the pipeline assumes. It fails
// fast, before any checkpoint or model work starts.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be between 0.0 and 1.0, got %v", ErrValidation, c.Threshold)
	}
	if c.TopN < 0 {
		return fmt.Errorf("%w: top-n must be a positive integer, got %d", ErrValidation, c.TopN)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch-size must be a positive integer, got %d", ErrValidation, c.BatchSize)
	}
	if c.MaxImagePixels < 1 {
		return fmt.Errorf("%w: max-image-pixels must be a positive integer, got %d", ErrValidation, c.MaxImagePixels)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache directory must not be empty", ErrValidation)
	}
	return nil
}

// Normalize returns a copy with out-of-range soft settings replaced by their
// documented defaults. Unsupported input resolutions fall back to
// DefaultImageSize with a warning rather than failing the run.
func (c Config) Normalize() Config {
	if !supportedImageSizes[c.ImageSize] {
		slog.Warn("unsupported input resolution, falling back",
			slog.Int("requested", c.ImageSize),
			slog.Int("fallback", DefaultImageSize))
		c.ImageSize = DefaultImageSize
	}
	return c
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ".phototag-cache")
	}
	return filepath.Join(base, "phototag")
}
