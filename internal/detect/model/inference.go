package model

import (
	"context"
)

// InferenceEngine defines a pluggable backend for token-classification
// inference. Implementations may use ONNX Runtime or other engines.
type InferenceEngine interface {
	// Run performs one forward pass and returns per-token logits with shape
	// [sequence length][number of labels].
	Run(ctx context.Context, enc *Encoding) ([][]float32, error)
	// Ready returns whether the engine is initialized and usable.
	Ready() bool
	// Close releases any native resources.
	Close() error
}

// newInferenceEngine creates an engine if supported by the current build.
// The default (no build tags) returns nil to avoid CGO dependencies; the
// implementation lives in backend_onnx.go behind the 'onnx' tag.
