package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/veil-sh/veil/internal/entity"
)

// LoadLabels reads label_map.json, a map of index string to BIO label
// ("0": "O", "1": "B-PERSON", ...), into index order.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label map: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode label map: %w", err)
	}

	labels := make([]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, err)
		}
		if idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		labels[idx] = v
	}
	return labels, nil
}

// labelType maps a BIO label to its entity type, e.g. "B-PER" and
// "I-PERSON" both yield PERSON. "O" and unknown tags yield "".
func labelType(label string) entity.Type {
	tag, rest, found := strings.Cut(label, "-")
	if !found || (tag != "B" && tag != "I") {
		return ""
	}
	switch rest {
	case "PER", "PERSON":
		return entity.TypePerson
	case "EMAIL":
		return entity.TypeEmail
	case "PHONE", "PHONE_NUMBER":
		return entity.TypePhone
	case "SSN":
		return entity.TypeSSN
	case "CREDIT_CARD":
		return entity.TypeCreditCard
	case "IP", "IP_ADDRESS":
		return entity.TypeIPAddress
	case "URL":
		return entity.TypeURL
	case "DOB", "DATE_OF_BIRTH":
		return entity.TypeDateOfBirth
	case "BANK_ACCOUNT":
		return entity.TypeBankAccount
	case "DRIVER_LICENSE":
		return entity.TypeDriverLicense
	case "PASSPORT":
		return entity.TypePassport
	case "LOC", "ADDRESS":
		return entity.TypeAddress
	case "POSTAL_CODE", "ZIP":
		return entity.TypePostalCode
	case "ORG", "ORGANIZATION":
		return entity.TypeOrganization
	case "API_KEY":
		return entity.TypeAPIKey
	default:
		return ""
	}
}

// softmax converts one row of logits into probabilities, shifted by the max
// for numerical stability.
func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	probs := make([]float32, len(logits))
	for i, v := range logits {
		p := math.Exp(float64(v - max))
		probs[i] = float32(p)
		sum += p
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}

type bioSpan struct {
	typ        entity.Type
	start      int
	end        int
	confidence float32
	tokens     int
}

// decodeBIO walks per-token logits and assembles entity spans. A B- tag
// opens a span, an I- tag of the same type extends it, and anything else
// (O, a new B-, or an I- of a different type) closes it. Span confidence is
// the running average of its token probabilities; spans below threshold are
// dropped. Tokens with no byte offset (specials, padding) are skipped.
func decodeBIO(logits [][]float32, offsets []Span, labels []string, threshold float32, text string) []entity.Match {
	var matches []entity.Match
	var open *bioSpan

	flush := func() {
		if open == nil {
			return
		}
		if open.confidence >= threshold && open.end > open.start {
			matches = append(matches, entity.Match{
				Type:       open.typ,
				Value:      text[open.start:open.end],
				Start:      open.start,
				End:        open.end,
				Confidence: open.confidence,
				Source:     entity.SourceModel,
			})
		}
		open = nil
	}

	for i, row := range logits {
		if i >= len(offsets) || offsets[i].Start < 0 {
			continue
		}
		probs := softmax(row)
		best := 0
		for j := 1; j < len(probs); j++ {
			if probs[j] > probs[best] {
				best = j
			}
		}
		if best >= len(labels) {
			continue
		}
		label := labels[best]
		prob := probs[best]
		typ := labelType(label)

		switch {
		case typ == "":
			flush()
		case strings.HasPrefix(label, "B-") || open == nil || open.typ != typ:
			flush()
			open = &bioSpan{
				typ:        typ,
				start:      offsets[i].Start,
				end:        offsets[i].End,
				confidence: prob,
				tokens:     1,
			}
		default:
			open.end = offsets[i].End
			open.tokens++
			open.confidence += (prob - open.confidence) / float32(open.tokens)
		}
	}
	flush()
	return matches
}
