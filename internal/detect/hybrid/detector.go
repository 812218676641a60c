// Package hybrid runs the pattern and model detectors together and merges
// their output into a single non-overlapping match list.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
)

// Mode selects which detectors run.
type Mode string

const (
	ModePattern Mode = "pattern"
	ModeModel   Mode = "model"
	ModeHybrid  Mode = "hybrid"
)

// Config holds the hybrid detector settings.
type Config struct {
	Mode Mode `yaml:"mode" mapstructure:"mode"`
	// MergePolicy resolves pattern/model overlap conflicts.
	MergePolicy string `yaml:"merge_policy" mapstructure:"merge_policy"`
	// FallbackToPattern degrades hybrid and model modes to pattern-only
	// results when the model is unavailable instead of failing the request.
	FallbackToPattern bool `yaml:"fallback_to_pattern" mapstructure:"fallback_to_pattern"`
}

// Detector fans text out to both sources concurrently and merges the
// results.
type Detector struct {
	pattern  detect.Detector
	model    detect.Detector
	merger   *Merger
	mode     Mode
	fallback bool
	logger   *zap.Logger
}

// New wires the two underlying detectors together. validated is the pattern
// detector's validator predicate, used by the prefer-validated policy.
func New(cfg Config, pattern, model detect.Detector, validated func(entity.Type) bool, logger *zap.Logger) (*Detector, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	switch mode {
	case ModePattern, ModeModel, ModeHybrid:
	default:
		return nil, fmt.Errorf("unknown detection mode: %s", mode)
	}

	policy, err := ParseMergePolicy(cfg.MergePolicy)
	if err != nil {
		return nil, err
	}

	logger.Info("Hybrid detector initialized",
		zap.String("mode", string(mode)),
		zap.String("merge_policy", string(policy)),
		zap.Bool("fallback_to_pattern", cfg.FallbackToPattern),
	)
	return &Detector{
		pattern:  pattern,
		model:    model,
		merger:   NewMerger(policy, validated),
		mode:     mode,
		fallback: cfg.FallbackToPattern,
		logger:   logger,
	}, nil
}

// Detect runs the configured detectors. In hybrid mode both run
// concurrently; a model failure either degrades to the pattern results
// (when fallback is enabled) or fails the call.
func (d *Detector) Detect(ctx context.Context, text string) ([]entity.Match, error) {
	switch d.mode {
	case ModePattern:
		return d.pattern.Detect(ctx, text)
	case ModeModel:
		matches, err := d.model.Detect(ctx, text)
		if err != nil && d.fallback && errors.Is(err, detect.ErrUnavailable) {
			d.logger.Warn("Model unavailable, falling back to pattern detection")
			return d.pattern.Detect(ctx, text)
		}
		return matches, err
	}

	var (
		wg                   sync.WaitGroup
		patternMatches       []entity.Match
		modelMatches         []entity.Match
		patternErr, modelErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		patternMatches, patternErr = d.pattern.Detect(ctx, text)
	}()
	go func() {
		defer wg.Done()
		modelMatches, modelErr = d.model.Detect(ctx, text)
	}()
	wg.Wait()

	if patternErr != nil {
		return nil, fmt.Errorf("pattern detection failed: %w", patternErr)
	}
	if modelErr != nil {
		if d.fallback && errors.Is(modelErr, detect.ErrUnavailable) {
			d.logger.Debug("Model unavailable, using pattern results only")
			return patternMatches, nil
		}
		return nil, fmt.Errorf("model detection failed: %w", modelErr)
	}

	return d.merger.Merge(patternMatches, modelMatches), nil
}
