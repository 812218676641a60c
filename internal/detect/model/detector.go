// Package model implements the NER-based entity detector: a WordPiece
// tokenizer feeding a token-classification model whose BIO output is decoded
// into entity spans. Inference runs through a pluggable engine; without the
// onnx build tag (or when assets are missing) the detector reports itself
// unavailable rather than erroring requests.
package model

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
)

// Config holds the model detector settings.
type Config struct {
	Enabled             bool        `yaml:"enabled" mapstructure:"enabled"`
	ModelPath           string      `yaml:"model_path" mapstructure:"model_path"`
	VocabPath           string      `yaml:"vocab_path" mapstructure:"vocab_path"`
	LabelsPath          string      `yaml:"labels_path" mapstructure:"labels_path"`
	MaxSequenceLength   int         `yaml:"max_sequence_length" mapstructure:"max_sequence_length"`
	ConfidenceThreshold float32     `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	Cache               CacheConfig `yaml:"cache" mapstructure:"cache"`
}

// Detector runs NER inference over text.
type Detector struct {
	tokenizer *Tokenizer
	engine    InferenceEngine
	labels    []string
	cache     *InferenceCache
	seqLen    int
	threshold float32
	logger    *zap.Logger
}

// New loads the tokenizer, label map, and inference engine. Missing assets
// are construction errors; an unavailable engine is not, because pattern
// detection must keep working without the model.
func New(cfg Config, logger *zap.Logger) (*Detector, error) {
	if !cfg.Enabled {
		logger.Info("Model detector disabled by configuration")
		return &Detector{logger: logger}, nil
	}

	tokenizer, err := LoadTokenizer(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	seqLen := cfg.MaxSequenceLength
	if seqLen <= 0 {
		seqLen = 256
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	d := &Detector{
		tokenizer: tokenizer,
		engine:    newInferenceEngine(logger, cfg.ModelPath, len(labels)),
		labels:    labels,
		seqLen:    seqLen,
		threshold: threshold,
		logger:    logger,
	}

	if cfg.Cache.Enabled {
		cache, err := NewInferenceCache(cfg.Cache, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize inference cache: %w", err)
		}
		d.cache = cache
	}

	logger.Info("Model detector initialized",
		zap.Int("num_labels", len(labels)),
		zap.Int("max_sequence_length", seqLen),
		zap.Bool("engine_ready", d.Ready()),
	)
	return d, nil
}

// Ready reports whether inference can run.
func (d *Detector) Ready() bool {
	return d.engine != nil && d.engine.Ready()
}

// Detect tokenizes text, runs inference, and decodes BIO tags into matches.
// Returns detect.ErrUnavailable when no engine is loaded so callers can fall
// back to pattern-only detection.
func (d *Detector) Detect(ctx context.Context, text string) ([]entity.Match, error) {
	if !d.Ready() {
		return nil, detect.ErrUnavailable
	}
	if text == "" {
		return nil, nil
	}

	if d.cache != nil {
		if matches, ok := d.cache.Get(ctx, text); ok {
			return matches, nil
		}
	}

	enc := d.tokenizer.Encode(text, d.seqLen)
	logits, err := d.engine.Run(ctx, enc)
	if err != nil {
		// A failing or timed-out engine is an availability problem, not a
		// request error. Callers with fallback enabled degrade to patterns.
		return nil, fmt.Errorf("%w: inference failed: %v", detect.ErrUnavailable, err)
	}

	matches := decodeBIO(logits, enc.Offsets, d.labels, d.threshold, text)
	if d.cache != nil {
		d.cache.Set(ctx, text, matches)
	}
	return matches, nil
}

// Close releases the engine and cache.
func (d *Detector) Close() error {
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.logger.Warn("Failed to close inference cache", zap.Error(err))
		}
	}
	if d.engine != nil {
		return d.engine.Close()
	}
	return nil
}
