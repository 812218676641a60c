package evaluate

import (
	"time"
)

// Record is one labeled entity span from the input dataset. Texts with
// several labeled entities appear as consecutive records sharing the
// same text.
type Record struct {
	Text       string `csv:"text" parquet:"text" json:"text"`
	EntityType string `csv:"entity_type" parquet:"entity_type" json:"entity_type"`
	Start      int    `csv:"start" parquet:"start" json:"start"`
	End        int    `csv:"end" parquet:"end" json:"end"`
}

// TypeMetrics accumulates detection counts for a single entity type.
type TypeMetrics struct {
	TruePositives  int64 `json:"true_positives"`
	FalsePositives int64 `json:"false_positives"`
	FalseNegatives int64 `json:"false_negatives"`
}

// Precision is the fraction of predicted spans that were labeled.
func (m *TypeMetrics) Precision() float64 {
	total := m.TruePositives + m.FalsePositives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(total)
}

// Recall is the fraction of labeled spans that were predicted.
func (m *TypeMetrics) Recall() float64 {
	total := m.TruePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(total)
}

// F1 is the harmonic mean of precision and recall.
func (m *TypeMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Report is the result of evaluating a detector against a dataset.
type Report struct {
	TotalRecords   int64                   `json:"total_records"`
	Samples        int64                   `json:"samples"`
	SkippedRecords int64                   `json:"skipped_records"`
	PerType        map[string]*TypeMetrics `json:"per_type"`
	Overall        TypeMetrics             `json:"overall"`
	Duration       time.Duration           `json:"duration"`
	DetectionTime  time.Duration           `json:"detection_time"`
	Errors         []string                `json:"errors,omitempty"`
}

// Config contains evaluation pipeline configuration.
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ValidateData   bool `yaml:"validate_data" mapstructure:"validate_data"`     // true
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// FileFormat represents supported dataset formats.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects dataset format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case len(filename) >= 8 && filename[len(filename)-8:] == ".parquet":
		return FormatParquet
	case len(filename) >= 5 && filename[len(filename)-5:] == ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}
