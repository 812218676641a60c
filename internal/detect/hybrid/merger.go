package hybrid

import (
	"fmt"
	"sort"

	"github.com/veil-sh/veil/internal/entity"
)

// MergePolicy selects how conflicting pattern and model detections over the
// same span are resolved.
type MergePolicy string

const (
	// PolicyHighestConfidence keeps whichever match scores higher.
	PolicyHighestConfidence MergePolicy = "highest-confidence"
	// PolicyPreferValidated keeps a checksum-validated pattern match over
	// any model match, falling back to confidence otherwise.
	PolicyPreferValidated MergePolicy = "prefer-validated"
	// PolicyPreferModel keeps the model match for context-dependent types
	// (person, organization, address) and the pattern match otherwise.
	PolicyPreferModel MergePolicy = "prefer-model"
	// PolicyKeepBoth keeps the higher-confidence span and records the loser
	// in the winner's metadata so nothing is silently discarded.
	PolicyKeepBoth MergePolicy = "keep-both"
)

// ParseMergePolicy validates a policy name from configuration.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(s); p {
	case PolicyHighestConfidence, PolicyPreferValidated, PolicyPreferModel, PolicyKeepBoth:
		return p, nil
	case "":
		return PolicyHighestConfidence, nil
	default:
		return "", fmt.Errorf("unknown merge policy: %s", s)
	}
}

// Merger combines detections from both sources into one non-overlapping,
// start-ordered list.
type Merger struct {
	policy MergePolicy
	// validated reports whether pattern matches of a type carry a checksum
	// or structural validator; the prefer-validated policy keys on it.
	validated func(entity.Type) bool
}

// NewMerger builds a merger. validated may be nil, in which case
// prefer-validated degrades to highest-confidence.
func NewMerger(policy MergePolicy, validated func(entity.Type) bool) *Merger {
	if validated == nil {
		validated = func(entity.Type) bool { return false }
	}
	return &Merger{policy: policy, validated: validated}
}

// Merge resolves overlaps between the two match lists. Non-overlapping
// matches pass through untouched; each overlap cluster collapses to a single
// winner chosen by the policy.
func (m *Merger) Merge(pattern, model []entity.Match) []entity.Match {
	combined := make([]entity.Match, 0, len(pattern)+len(model))
	combined = append(combined, pattern...)
	combined = append(combined, model...)
	if len(combined) <= 1 {
		return combined
	}

	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].Start != combined[j].Start {
			return combined[i].Start < combined[j].Start
		}
		return combined[i].End > combined[j].End
	})

	result := make([]entity.Match, 0, len(combined))
	i := 0
	for i < len(combined) {
		winner := combined[i]
		var losers []entity.Match
		j := i + 1
		for j < len(combined) && combined[j].Start < winner.End {
			next := combined[j]
			if m.wins(next, winner) {
				losers = append(losers, winner)
				winner = next
			} else {
				losers = append(losers, next)
			}
			j++
		}
		if m.policy == PolicyKeepBoth && len(losers) > 0 {
			winner = recordConflicts(winner, losers)
		}
		result = append(result, winner)
		i = j
	}
	return result
}

// wins reports whether challenger beats incumbent under the policy.
func (m *Merger) wins(challenger, incumbent entity.Match) bool {
	switch m.policy {
	case PolicyPreferValidated:
		cv := challenger.Source == entity.SourcePattern && m.validated(challenger.Type)
		iv := incumbent.Source == entity.SourcePattern && m.validated(incumbent.Type)
		if cv != iv {
			return cv
		}
	case PolicyPreferModel:
		if challenger.Source != incumbent.Source {
			modelSide := challenger
			if modelSide.Source != entity.SourceModel {
				modelSide = incumbent
			}
			modelWins := contextDependent(modelSide.Type)
			return (challenger.Source == entity.SourceModel) == modelWins
		}
	}
	return challenger.Confidence > incumbent.Confidence
}

// contextDependent reports whether a type is best judged from surrounding
// context, where the model outperforms fixed patterns.
func contextDependent(t entity.Type) bool {
	switch t {
	case entity.TypePerson, entity.TypeOrganization, entity.TypeAddress:
		return true
	}
	return false
}

// recordConflicts annotates the winner with the spans it displaced.
func recordConflicts(winner entity.Match, losers []entity.Match) entity.Match {
	if winner.Metadata == nil {
		winner.Metadata = make(map[string]string, len(losers))
	}
	for i, l := range losers {
		key := "conflict_with"
		if i > 0 {
			key = fmt.Sprintf("conflict_with_%d", i+1)
		}
		winner.Metadata[key] = fmt.Sprintf("%s/%s@%d..%d(%.2f)", l.Source, l.Type, l.Start, l.End, l.Confidence)
	}
	return winner
}
