package evaluate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
)

// Evaluator scores a detector against labeled datasets.
type Evaluator struct {
	detector detect.Detector
	config   *Config
	logger   *zap.Logger

	mu     sync.Mutex
	report *Report
	start  time.Time
}

// sample is one text with all of its labeled spans.
type sample struct {
	text   string
	labels []Record
}

// NewEvaluator creates an evaluator for the given detector.
func NewEvaluator(detector detect.Detector, config *Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		detector: detector,
		config:   config,
		logger:   logger,
	}
}

// ProcessFile evaluates the detector against a dataset file
// (CSV, Parquet, or JSON lines).
func (e *Evaluator) ProcessFile(ctx context.Context, filePath string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	e.logger.Info("Starting evaluation",
		zap.String("file", filePath),
		zap.Int("batch_size", e.config.BatchSize),
		zap.Int("workers", e.config.WorkerCount))

	e.mu.Lock()
	e.report = &Report{PerType: make(map[string]*TypeMetrics)}
	e.start = time.Now()
	e.mu.Unlock()

	format := DetectFileFormat(filePath)
	e.logger.Info("Detected file format", zap.String("format", string(format)))

	var err error
	switch format {
	case FormatCSV:
		err = e.processCSV(ctx, filePath)
	case FormatParquet:
		err = e.processParquet(ctx, filePath)
	case FormatJSON:
		err = e.processJSON(ctx, filePath)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return e.snapshot(), fmt.Errorf("%s processing failed: %w", format, err)
	}

	report := e.snapshot()
	report.Duration = time.Since(e.start)

	e.logger.Info("Evaluation completed",
		zap.Int64("total_records", report.TotalRecords),
		zap.Int64("samples", report.Samples),
		zap.Int64("skipped_records", report.SkippedRecords),
		zap.Float64("precision", report.Overall.Precision()),
		zap.Float64("recall", report.Overall.Recall()),
		zap.Duration("total_duration", report.Duration),
		zap.Duration("detection_time", report.DetectionTime))

	return report, nil
}

func (e *Evaluator) processCSV(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 4 // text, entity_type, start, end

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	e.logger.Info("CSV header detected", zap.Strings("columns", header))

	return e.processBatches(ctx, func() ([]Record, error) {
		var batch []Record

		for len(batch) < e.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				e.logger.Warn("Failed to read CSV record", zap.Error(err))
				e.skip(1)
				continue
			}

			start, startErr := strconv.Atoi(strings.TrimSpace(row[2]))
			end, endErr := strconv.Atoi(strings.TrimSpace(row[3]))
			if startErr != nil || endErr != nil {
				e.logger.Warn("Invalid CSV span offsets", zap.Strings("row", row))
				e.skip(1)
				continue
			}

			record := Record{
				Text:       row[0],
				EntityType: strings.TrimSpace(row[1]),
				Start:      start,
				End:        end,
			}
			if e.validateRecord(record) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	})
}

func (e *Evaluator) processParquet(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return e.processBatches(ctx, func() ([]Record, error) {
		var batch []Record

		for len(batch) < e.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				e.logger.Warn("Failed to read Parquet record", zap.Error(err))
				e.skip(1)
				continue
			}

			if e.validateRecord(record) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	})
}

func (e *Evaluator) processJSON(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return e.processBatches(ctx, func() ([]Record, error) {
		var batch []Record

		for len(batch) < e.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				e.logger.Warn("Failed to read JSON record", zap.Error(err))
				e.skip(1)
				continue
			}

			if e.validateRecord(record) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	})
}

func (e *Evaluator) processBatches(ctx context.Context, readBatch func() ([]Record, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := e.evaluateBatch(ctx, batch); err != nil {
			return err
		}

		e.mu.Lock()
		total := e.report.TotalRecords
		e.mu.Unlock()
		if e.config.ProgressReport > 0 && total%int64(e.config.ProgressReport) == 0 {
			e.reportProgress()
		}
	}

	return nil
}

// evaluateBatch groups records into per-text samples and scores them
// across the worker pool.
func (e *Evaluator) evaluateBatch(ctx context.Context, batch []Record) error {
	samples := groupSamples(batch)

	workers := e.config.WorkerCount
	if workers < 1 {
		workers = 1
	}

	work := make(chan sample)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				e.scoreSample(ctx, s)
			}
		}()
	}

	for _, s := range samples {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		case work <- s:
		}
	}
	close(work)
	wg.Wait()

	e.mu.Lock()
	e.report.TotalRecords += int64(len(batch))
	e.report.Samples += int64(len(samples))
	e.mu.Unlock()

	return nil
}

// groupSamples folds consecutive records sharing a text into one sample.
func groupSamples(batch []Record) []sample {
	var samples []sample
	for _, record := range batch {
		if n := len(samples); n > 0 && samples[n-1].text == record.Text {
			samples[n-1].labels = append(samples[n-1].labels, record)
			continue
		}
		samples = append(samples, sample{text: record.Text, labels: []Record{record}})
	}
	return samples
}

// scoreSample runs detection on one text and tallies the outcome. A
// prediction counts as a true positive when it overlaps a labeled span
// of the same type.
func (e *Evaluator) scoreSample(ctx context.Context, s sample) {
	detectStart := time.Now()
	matches, err := e.detector.Detect(ctx, s.text)
	detectDuration := time.Since(detectStart)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.DetectionTime += detectDuration

	if err != nil {
		e.report.Errors = append(e.report.Errors, err.Error())
		return
	}

	claimed := make([]bool, len(matches))
	for _, label := range s.labels {
		found := false
		for i, m := range matches {
			if claimed[i] || string(m.Type) != label.EntityType {
				continue
			}
			if m.Start < label.End && label.Start < m.End {
				claimed[i] = true
				found = true
				break
			}
		}
		metrics := e.metricsFor(label.EntityType)
		if found {
			metrics.TruePositives++
			e.report.Overall.TruePositives++
		} else {
			metrics.FalseNegatives++
			e.report.Overall.FalseNegatives++
		}
	}
	for i, m := range matches {
		if !claimed[i] {
			e.metricsFor(string(m.Type)).FalsePositives++
			e.report.Overall.FalsePositives++
		}
	}
}

// metricsFor returns the per-type bucket, creating it on first use.
// Caller holds e.mu.
func (e *Evaluator) metricsFor(entityType string) *TypeMetrics {
	metrics, ok := e.report.PerType[entityType]
	if !ok {
		metrics = &TypeMetrics{}
		e.report.PerType[entityType] = metrics
	}
	return metrics
}

func (e *Evaluator) validateRecord(record Record) bool {
	if !e.config.ValidateData {
		return true
	}

	if strings.TrimSpace(record.Text) == "" {
		e.logger.Debug("Invalid record: empty text")
		e.skip(1)
		return false
	}
	if strings.TrimSpace(record.EntityType) == "" {
		e.logger.Debug("Invalid record: empty entity_type")
		e.skip(1)
		return false
	}
	if record.Start < 0 || record.End <= record.Start || record.End > len(record.Text) {
		e.logger.Debug("Invalid record: span out of bounds",
			zap.Int("start", record.Start),
			zap.Int("end", record.End),
			zap.Int("text_length", len(record.Text)))
		e.skip(1)
		return false
	}
	if want := record.Text[record.Start:record.End]; entity.Normalize(want) == "" {
		e.logger.Debug("Invalid record: blank labeled span")
		e.skip(1)
		return false
	}
	if len(record.Text) > 10000 {
		e.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		e.skip(1)
		return false
	}

	return true
}

func (e *Evaluator) skip(n int64) {
	e.mu.Lock()
	e.report.SkippedRecords += n
	e.mu.Unlock()
}

func (e *Evaluator) reportProgress() {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := time.Since(e.start)
	rate := float64(e.report.TotalRecords) / elapsed.Seconds()

	e.logger.Info("Evaluation progress",
		zap.Int64("records_processed", e.report.TotalRecords),
		zap.Int64("samples", e.report.Samples),
		zap.Int64("skipped", e.report.SkippedRecords),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// snapshot copies the report for callers.
func (e *Evaluator) snapshot() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := *e.report
	report.PerType = make(map[string]*TypeMetrics, len(e.report.PerType))
	for t, m := range e.report.PerType {
		copied := *m
		report.PerType[t] = &copied
	}
	return &report
}
