//go:build !onnx
// +build !onnx

package model

import (
	"go.uber.org/zap"
)

// Stub used when the 'onnx' build tag is not set. A nil engine makes the
// detector report itself unavailable instead of failing requests.
func newInferenceEngine(logger *zap.Logger, modelPath string, numLabels int) InferenceEngine {
	logger.Warn("Model inference disabled: binary built without the onnx tag",
		zap.String("model_path", modelPath))
	return nil
}
