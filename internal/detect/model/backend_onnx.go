//go:build onnx
// +build onnx

package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// onnxEngine implements InferenceEngine using ONNX Runtime
// (via yalue/onnxruntime_go) against a token-classification model.
type onnxEngine struct {
	session   *ort.DynamicAdvancedSession
	numLabels int
	logger    *zap.Logger
	ready     bool
	mu        sync.RWMutex
}

// newInferenceEngine initializes the ONNX Runtime engine. Requires build
// tag 'onnx'. Errors are logged rather than returned so a missing runtime
// degrades the detector instead of aborting startup.
func newInferenceEngine(logger *zap.Logger, modelPath string, numLabels int) InferenceEngine {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			logger.Error("ONNX Runtime environment init failed", zap.Error(err))
			return nil
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed",
			zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX Runtime engine ready",
		zap.String("model", modelPath), zap.Int("num_labels", numLabels))
	return &onnxEngine{session: session, numLabels: numLabels, logger: logger, ready: true}
}

func (e *onnxEngine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready && e.session != nil
}

func (e *onnxEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.ready = false
	return nil
}

// Run performs a single-sequence forward pass. Output logits are reshaped
// from the flat [1, seq, labels] tensor into per-token rows.
func (e *onnxEngine) Run(ctx context.Context, enc *Encoding) ([][]float32, error) {
	if !e.Ready() {
		return nil, fmt.Errorf("onnx engine not ready")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seqLen := len(enc.InputIDs)
	shape := ort.NewShape(1, int64(seqLen))

	idsTensor, err := ort.NewTensor[int64](shape, enc.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}
	seq := int(outShape[1])
	labels := int(outShape[2])
	if labels != e.numLabels {
		return nil, fmt.Errorf("unexpected label count %d (want %d)", labels, e.numLabels)
	}
	if len(data) != seq*labels {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
	}

	logits := make([][]float32, seq)
	for i := 0; i < seq; i++ {
		row := make([]float32, labels)
		copy(row, data[i*labels:(i+1)*labels])
		logits[i] = row
	}
	return logits, nil
}
