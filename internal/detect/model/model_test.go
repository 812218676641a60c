package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
)

func testVocab() map[string]int64 {
	tokens := []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"john", "doe", "contact", "at",
		"jo", "##hn", "##e",
	}
	vocab := make(map[string]int64, len(tokens))
	for i, t := range tokens {
		vocab[t] = int64(i)
	}
	return vocab
}

func TestEncodeOffsets(t *testing.T) {
	tok := newTokenizerFromVocab(testVocab())

	text := "Contact John Doe"
	enc := tok.Encode(text, 16)
	if enc == nil {
		t.Fatal("nil encoding")
	}
	if len(enc.InputIDs) != 16 || len(enc.AttentionMask) != 16 || len(enc.Offsets) != 16 {
		t.Fatalf("encoding not padded to sequence length: %d/%d/%d",
			len(enc.InputIDs), len(enc.AttentionMask), len(enc.Offsets))
	}

	// [CLS] contact john doe [SEP]
	want := []int64{2, 6, 4, 5, 3}
	for i, id := range want {
		if enc.InputIDs[i] != id {
			t.Fatalf("input_ids[%d] = %d, want %d (full: %v)", i, enc.InputIDs[i], id, enc.InputIDs[:6])
		}
	}
	if enc.Offsets[0].Start != -1 {
		t.Error("[CLS] should carry no offset")
	}
	if span := enc.Offsets[2]; text[span.Start:span.End] != "John" {
		t.Errorf("token 2 offset resolves to %q, want John", text[span.Start:span.End])
	}
	for i := 0; i < 5; i++ {
		if enc.AttentionMask[i] != 1 {
			t.Errorf("attention_mask[%d] = 0 inside the sequence", i)
		}
	}
	if enc.AttentionMask[5] != 0 {
		t.Error("attention_mask should be 0 over padding")
	}
}

func TestEncodeWordPieceContinuation(t *testing.T) {
	tok := newTokenizerFromVocab(testVocab())

	// "joe" is not in the vocab but "jo" + "##e" is.
	enc := tok.Encode("joe", 8)
	if enc.InputIDs[1] != 8 || enc.InputIDs[2] != 10 {
		t.Fatalf("wordpiece split = %v, want [jo ##e]", enc.InputIDs[1:3])
	}
	first, second := enc.Offsets[1], enc.Offsets[2]
	if first.Start != 0 || first.End != 2 || second.Start != 2 || second.End != 3 {
		t.Errorf("continuation offsets wrong: %v %v", first, second)
	}
}

func TestEncodeUnknownWord(t *testing.T) {
	tok := newTokenizerFromVocab(testVocab())

	enc := tok.Encode("zzz", 8)
	if enc.InputIDs[1] != 1 {
		t.Errorf("uncoverable word should become [UNK], got %d", enc.InputIDs[1])
	}
}

func TestEncodeOffsetsWidthChangingLowercase(t *testing.T) {
	tok := newTokenizerFromVocab(testVocab())

	// U+023A lowercases to U+2C65, growing from 2 to 3 UTF-8 bytes. Offsets
	// must stay anchored to the original bytes.
	text := "Ⱥbc and John"
	enc := tok.Encode(text, 16)

	for i, span := range enc.Offsets {
		if span.Start < 0 {
			continue
		}
		if span.Start > span.End || span.End > len(text) {
			t.Fatalf("offset %d = %v escapes text of length %d", i, span, len(text))
		}
	}
	if span := enc.Offsets[1]; text[span.Start:span.End] != "Ⱥbc" {
		t.Errorf("token 1 resolves to %q, want the original word", text[span.Start:span.End])
	}
	if span := enc.Offsets[3]; text[span.Start:span.End] != "John" {
		t.Errorf("token 3 resolves to %q, want John", text[span.Start:span.End])
	}

	// The decoded span slices the original text without panicking.
	labels := []string{"O", "B-PERSON", "I-PERSON"}
	logits := make([][]float32, len(enc.Offsets))
	for i := range logits {
		logits[i] = rowFor(3, 0, 10)
	}
	logits[1] = rowFor(3, 1, 10)
	matches := decodeBIO(logits, enc.Offsets, labels, 0.5, text)
	if len(matches) != 1 || matches[0].Value != "Ⱥbc" {
		t.Fatalf("matches = %+v, want one PERSON span over the first word", matches)
	}
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float32{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("probabilities sum to %f", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Errorf("softmax not monotone: %v", probs)
	}
}

func TestLabelType(t *testing.T) {
	tests := []struct {
		label string
		want  entity.Type
	}{
		{"B-PERSON", entity.TypePerson},
		{"I-PER", entity.TypePerson},
		{"B-EMAIL", entity.TypeEmail},
		{"I-ORG", entity.TypeOrganization},
		{"O", ""},
		{"B-WHATEVER", ""},
	}
	for _, tt := range tests {
		if got := labelType(tt.label); got != tt.want {
			t.Errorf("labelType(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

// rowFor builds a one-hot logit row; a large strength drives softmax to
// near-certainty for the chosen label.
func rowFor(numLabels, idx int, strength float32) []float32 {
	row := make([]float32, numLabels)
	row[idx] = strength
	return row
}

func TestDecodeBIO(t *testing.T) {
	labels := []string{"O", "B-PERSON", "I-PERSON", "B-EMAIL"}
	text := "Contact John Doe now"
	// Tokens: [CLS] contact john doe now [SEP]
	offsets := []Span{{-1, -1}, {0, 7}, {8, 12}, {13, 16}, {17, 20}, {-1, -1}}
	logits := [][]float32{
		rowFor(4, 0, 10), // [CLS], skipped by offset anyway
		rowFor(4, 0, 10), // contact -> O
		rowFor(4, 1, 10), // john -> B-PERSON
		rowFor(4, 2, 10), // doe -> I-PERSON
		rowFor(4, 0, 10), // now -> O
		rowFor(4, 0, 10), // [SEP]
	}

	matches := decodeBIO(logits, offsets, labels, 0.5, text)
	if len(matches) != 1 {
		t.Fatalf("expected 1 span, got %d: %+v", len(matches), matches)
	}
	m := matches[0]
	if m.Type != entity.TypePerson || m.Value != "John Doe" {
		t.Errorf("span = %s %q, want PERSON \"John Doe\"", m.Type, m.Value)
	}
	if m.Start != 8 || m.End != 16 {
		t.Errorf("span offsets = %d..%d, want 8..16", m.Start, m.End)
	}
	if m.Source != entity.SourceModel {
		t.Errorf("source = %s, want model", m.Source)
	}
	if m.Confidence < 0.9 {
		t.Errorf("confidence = %f, want near 1 for strong logits", m.Confidence)
	}
}

func TestDecodeBIOTypeMismatchClosesSpan(t *testing.T) {
	labels := []string{"O", "B-PERSON", "I-PERSON", "B-EMAIL", "I-EMAIL"}
	text := "aa bb"
	offsets := []Span{{0, 2}, {3, 5}}
	logits := [][]float32{
		rowFor(5, 1, 10), // aa -> B-PERSON
		rowFor(5, 4, 10), // bb -> I-EMAIL, different type
	}

	matches := decodeBIO(logits, offsets, labels, 0.5, text)
	if len(matches) != 2 {
		t.Fatalf("expected mismatched continuation to start a new span, got %+v", matches)
	}
	if matches[0].Type != entity.TypePerson || matches[1].Type != entity.TypeEmail {
		t.Errorf("span types = %s, %s", matches[0].Type, matches[1].Type)
	}
}

func TestDecodeBIOThreshold(t *testing.T) {
	labels := []string{"O", "B-PERSON"}
	text := "aa"
	offsets := []Span{{0, 2}}
	// Weak logit: softmax over {0.2, 0} vs near-uniform keeps confidence low.
	logits := [][]float32{{0, 0.2}}

	matches := decodeBIO(logits, offsets, labels, 0.9, text)
	if len(matches) != 0 {
		t.Errorf("low-confidence span should be dropped, got %+v", matches)
	}
}

type failingEngine struct{}

func (failingEngine) Run(context.Context, *Encoding) ([][]float32, error) {
	return nil, errors.New("session timed out")
}
func (failingEngine) Ready() bool  { return true }
func (failingEngine) Close() error { return nil }

func TestDetectorUnavailableOnInferenceFailure(t *testing.T) {
	d := &Detector{
		tokenizer: newTokenizerFromVocab(testVocab()),
		engine:    failingEngine{},
		labels:    []string{"O", "B-PERSON"},
		seqLen:    8,
		threshold: 0.5,
		logger:    zap.NewNop(),
	}
	if _, err := d.Detect(context.Background(), "hello"); !errors.Is(err, detect.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for a failing engine, got %v", err)
	}
}

func TestDetectorUnavailableWithoutEngine(t *testing.T) {
	d, err := New(Config{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := d.Detect(context.Background(), "hello"); !errors.Is(err, detect.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
