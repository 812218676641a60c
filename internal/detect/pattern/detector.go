// Package pattern implements the regex-based entity detector. It is pure CPU
// work: deterministic, side-effect free, with no failure mode past
// construction.
package pattern

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

// Config selects which rules run and adds tenant-supplied custom rules.
type Config struct {
	// Detectors lists enabled rule names, or the single element "all".
	Detectors []string `yaml:"detectors" mapstructure:"detectors"`
	// CustomRules are compiled at construction time; a malformed expression
	// fails construction rather than detection.
	CustomRules []CustomRule `yaml:"custom_rules" mapstructure:"custom_rules"`
}

// CustomRule is a user-supplied detection rule loaded from configuration.
type CustomRule struct {
	Name       string  `yaml:"name" mapstructure:"name"`
	Expression string  `yaml:"expression" mapstructure:"expression"`
	Confidence float32 `yaml:"confidence" mapstructure:"confidence"`
}

// Detector applies the enabled rules to raw text.
type Detector struct {
	rules   []Rule
	enabled map[string]bool
	logger  *zap.Logger
}

// New builds a detector from configuration. Unknown detector names and
// malformed custom expressions are construction errors.
func New(cfg Config, logger *zap.Logger) (*Detector, error) {
	d := &Detector{
		rules:   DefaultRules(),
		enabled: make(map[string]bool),
		logger:  logger,
	}

	for _, custom := range cfg.CustomRules {
		re, err := regexp.Compile(custom.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid custom rule %q: %w", custom.Name, err)
		}
		confidence := custom.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.50
		}
		d.rules = append(d.rules, Rule{
			Name:       custom.Name,
			Type:       entity.TypeCustom,
			Pattern:    re,
			Confidence: confidence,
		})
	}

	if err := d.configure(cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	logger.Info("Pattern detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabled()),
	)
	return d, nil
}

// configure enables rules by name, with "all" as a wildcard.
func (d *Detector) configure(names []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Name] = false
	}
	if len(names) == 0 {
		names = []string{"all"}
	}

	for _, name := range names {
		if name == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Name] = true
			}
			continue
		}
		if _, ok := d.enabled[name]; !ok {
			return fmt.Errorf("unknown detector: %s", name)
		}
		d.enabled[name] = true
	}
	return nil
}

// Detect runs every enabled rule against text. Matches whose validator
// rejects the raw hit are suppressed. Output is sorted by start offset with
// intra-source overlaps resolved by confidence.
func (d *Detector) Detect(_ context.Context, text string) ([]entity.Match, error) {
	if text == "" {
		return nil, nil
	}

	var matches []entity.Match
	for _, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(value) {
				continue
			}
			matches = append(matches, entity.Match{
				Type:       rule.Type,
				Value:      value,
				Start:      loc[0],
				End:        loc[1],
				Confidence: rule.Confidence,
				Source:     entity.SourcePattern,
			})
		}
	}

	return dedupeOverlaps(matches), nil
}

// Validated reports whether the named entity type maps to a rule carrying a
// validator. The prefer-validated merge policy uses this.
func (d *Detector) Validated(t entity.Type) bool {
	for _, rule := range d.rules {
		if rule.Type == t && rule.Validated() {
			return true
		}
	}
	return false
}

func (d *Detector) countEnabled() int {
	count := 0
	for _, on := range d.enabled {
		if on {
			count++
		}
	}
	return count
}

// dedupeOverlaps collapses overlapping hits from different rules (a bank
// account regex will often re-match a card number) keeping the highest
// confidence span. Ties break toward the earlier, then longer span so the
// result is deterministic.
func dedupeOverlaps(matches []entity.Match) []entity.Match {
	if len(matches) <= 1 {
		return matches
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	result := make([]entity.Match, 0, len(matches))
	i := 0
	for i < len(matches) {
		best := matches[i]
		j := i + 1
		for j < len(matches) && matches[j].Start < best.End {
			if matches[j].Confidence > best.Confidence {
				best = matches[j]
			}
			j++
		}
		result = append(result, best)
		i = j
	}
	return result
}
