// Package service implements the tagging pipeline: guarded image decode,
// bounded batched inference, per-image failure isolation and order-preserving
// result aggregation.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/krau/phototag/checkpoint"
	"github.com/krau/phototag/config"
)

// State tracks the service lifecycle. Tagging can be re-entered repeatedly
// once the model is ready; Failed is terminal.
type State int

const (
	StateConstructed State = iota
	StateConfigured
	StateModelLoading
	StateModelReady
	StateTagging
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateConfigured:
		return "configured"
	case StateModelLoading:
		return "model-loading"
	case StateModelReady:
		return "model-ready"
	case StateTagging:
		return "tagging"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Service orchestrates the full tagging flow: configuration validation,
// model lifecycle, batch scheduling and post-processing.
type Service struct {
	cfg       config.Config
	overrides map[string]string
	ckpt      *checkpoint.Manager
	guard     *Guard
	engine    Inferencer

	mu       sync.Mutex
	state    State
	loadErr  error
	loadTime time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithEngine substitutes the inference backend. When set, LoadModel skips
// checkpoint acquisition and loads the given engine directly.
func WithEngine(engine Inferencer) Option {
	return func(s *Service) {
		s.engine = engine
	}
}

// WithCheckpointManager substitutes the checkpoint manager.
func WithCheckpointManager(m *checkpoint.Manager) Option {
	return func(s *Service) {
		s.ckpt = m
	}
}

// New validates cfg eagerly and returns a configured service. Invalid
// configuration fails here, before any checkpoint or model work.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalize()

	overrides, err := LoadOverrides(cfg.OverridesPath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		overrides: overrides,
		ckpt:      checkpoint.New(cfg.CacheDir),
		guard:     NewGuard(cfg.MaxImagePixels, cfg.ImageSize),
		state:     StateConfigured,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadModel ensures a verified checkpoint is present, materializes the
// engine and records the wall-clock load duration. Idempotent once the
// model is ready; a load failure is terminal for this instance.
func (s *Service) LoadModel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadModelLocked(ctx)
}

func (s *Service) loadModelLocked(ctx context.Context) error {
	switch s.state {
	case StateModelReady, StateTagging:
		return nil
	case StateFailed:
		return s.loadErr
	}

	s.state = StateModelLoading
	start := time.Now()

	if s.engine == nil {
		modelPath, err := s.ckpt.Ensure(ctx, checkpoint.Checkpoint{
			RepoID:   s.cfg.ModelRepo,
			Filename: s.cfg.ModelFile,
			SHA256:   s.cfg.ModelHash,
			MinBytes: s.cfg.ModelMinBytes,
		})
		if err != nil {
			return s.fail(err)
		}
		vocabPath, err := s.ckpt.Ensure(ctx, checkpoint.Checkpoint{
			RepoID:   s.cfg.ModelRepo,
			Filename: s.cfg.VocabFile,
			SHA256:   s.cfg.VocabHash,
			MinBytes: s.cfg.VocabMinBytes,
		})
		if err != nil {
			return s.fail(err)
		}
		s.engine = NewEngine(modelPath, vocabPath, s.cfg.Device, s.cfg.Libonnx, s.cfg.ImageSize, s.cfg.Threshold)
	}

	if err := s.engine.Load(ctx); err != nil {
		return s.fail(err)
	}

	s.loadTime = time.Since(start)
	s.state = StateModelReady
	return nil
}

func (s *Service) fail(err error) error {
	s.state = StateFailed
	s.loadErr = err
	return err
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoadTime returns the wall-clock duration of the last successful model load.
func (s *Service) LoadTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTime
}

// TagPaths resolves inputs into image paths, tags them, and returns one
// result per image in input order. It never fails for individual images;
// only configuration, "no images" and model errors abort the run.
func (s *Service) TagPaths(ctx context.Context, inputs []string, recursive bool, onProgress ProgressFunc) (*Batch, error) {
	images := CollectImages(inputs, recursive)
	if len(images) == 0 {
		return nil, fmt.Errorf("%w in the provided paths; supported formats: %s", ErrNoImages, SupportedFormats)
	}
	return s.TagFiles(ctx, images, onProgress)
}

// TagFiles tags a pre-resolved list of image paths.
func (s *Service) TagFiles(ctx context.Context, paths []string, onProgress ProgressFunc) (*Batch, error) {
	s.mu.Lock()
	if err := s.loadModelLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateTagging
	engine := s.engine
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateTagging {
			s.state = StateModelReady
		}
		s.mu.Unlock()
	}()

	scheduler := NewScheduler(s.guard, engine)
	results, err := scheduler.Run(paths, s.cfg.BatchSize, onProgress)
	if err != nil {
		return nil, err
	}

	for i := range results {
		s.postProcess(&results[i])
	}
	return &Batch{Results: results}, nil
}

// postProcess applies tag-name overrides, then top-N truncation. Errored
// results are left untouched.
func (s *Service) postProcess(r *TagResult) {
	if !r.Succeeded() {
		return
	}
	r.Tags = ApplyOverrides(r.Tags, s.overrides)
	if s.cfg.TopN > 0 {
		r.Truncate(s.cfg.TopN)
	}
}
