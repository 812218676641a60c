package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/config"
	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/detect/hybrid"
	"github.com/veil-sh/veil/internal/detect/model"
	"github.com/veil-sh/veil/internal/detect/pattern"
	"github.com/veil-sh/veil/internal/evaluate"
	"github.com/veil-sh/veil/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Labeled dataset file (CSV, Parquet, or JSON lines)")
		mode       = flag.String("mode", "pattern", "Detection mode to evaluate (pattern, model, hybrid)")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		jsonOut    = flag.Bool("json", false, "Print the report as JSON")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input dataset.csv --mode pattern\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input dataset.parquet --mode hybrid --workers 8\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting veil evaluation",
		zap.String("file", *inputFile),
		zap.String("mode", *mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling evaluation...")
		cancel()
	}()

	detector, closeDetector, err := buildDetector(cfg, *mode, log.Logger)
	if err != nil {
		log.Fatal("Failed to build detector", zap.Error(err))
	}
	defer closeDetector()

	evaluator := evaluate.NewEvaluator(detector, &evaluate.Config{
		BatchSize:      *batchSize,
		WorkerCount:    *workers,
		ValidateData:   true,
		ProgressReport: 1000,
	}, log.Logger)

	report, err := evaluator.ProcessFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Evaluation failed", zap.Error(err))
	}

	if *jsonOut {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			log.Fatal("Failed to encode report", zap.Error(err))
		}
		return
	}

	printReport(report)
}

// buildDetector wires the requested detection stack from the service
// configuration.
func buildDetector(cfg *config.Config, mode string, log *zap.Logger) (detect.Detector, func(), error) {
	patternDet, err := pattern.New(cfg.Detection.Pattern, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pattern detector: %w", err)
	}

	modelCfg := cfg.Detection.Model
	if mode == "model" || mode == "hybrid" {
		modelCfg.Enabled = true
	}
	modelDet, err := model.New(modelCfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model detector: %w", err)
	}

	hybridCfg := cfg.Detection.Hybrid
	hybridCfg.Mode = hybrid.Mode(mode)
	detector, err := hybrid.New(hybridCfg, patternDet, modelDet, patternDet.Validated, log)
	if err != nil {
		return nil, nil, err
	}

	return detector, func() { modelDet.Close() }, nil
}

func printReport(report *evaluate.Report) {
	fmt.Printf("\n=== Veil Detection Evaluation ===\n")
	fmt.Printf("Records:          %d\n", report.TotalRecords)
	fmt.Printf("Samples:          %d\n", report.Samples)
	fmt.Printf("Skipped:          %d\n", report.SkippedRecords)
	fmt.Printf("Duration:         %v\n", report.Duration)
	fmt.Printf("Detection Time:   %v\n", report.DetectionTime)
	fmt.Printf("\n%-16s %10s %10s %10s %8s %8s %8s\n",
		"TYPE", "TP", "FP", "FN", "PREC", "RECALL", "F1")

	types := make([]string, 0, len(report.PerType))
	for t := range report.PerType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		m := report.PerType[t]
		fmt.Printf("%-16s %10d %10d %10d %8.3f %8.3f %8.3f\n",
			t, m.TruePositives, m.FalsePositives, m.FalseNegatives,
			m.Precision(), m.Recall(), m.F1())
	}
	m := report.Overall
	fmt.Printf("%-16s %10d %10d %10d %8.3f %8.3f %8.3f\n",
		"OVERALL", m.TruePositives, m.FalsePositives, m.FalseNegatives,
		m.Precision(), m.Recall(), m.F1())

	if len(report.Errors) > 0 {
		fmt.Printf("\nDetection errors: %d (first: %s)\n", len(report.Errors), report.Errors[0])
	}
}
