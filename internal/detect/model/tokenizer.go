package model

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Span is the byte range of one token in the original text. Special and
// padding tokens carry {-1, -1}.
type Span struct {
	Start int
	End   int
}

// Encoding is tokenized text ready for inference. Offsets map every token
// position back to the original byte span so detections can be anchored.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	Offsets       []Span
}

// Tokenizer is a minimal BERT-compatible WordPiece tokenizer loaded from a
// vocab.txt file, one token per line.
type Tokenizer struct {
	vocab map[string]int64
	clsID int64
	sepID int64
	padID int64
	unkID int64
}

// LoadTokenizer reads vocab.txt and builds the tokenizer. Special token IDs
// come from the vocab itself.
func LoadTokenizer(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan vocab: %w", err)
	}

	return &Tokenizer{
		vocab: vocab,
		clsID: vocab["[CLS]"],
		sepID: vocab["[SEP]"],
		padID: vocab["[PAD]"],
		unkID: vocab["[UNK]"],
	}, nil
}

// newTokenizerFromVocab is a test hook.
func newTokenizerFromVocab(vocab map[string]int64) *Tokenizer {
	return &Tokenizer{
		vocab: vocab,
		clsID: vocab["[CLS]"],
		sepID: vocab["[SEP]"],
		padID: vocab["[PAD]"],
		unkID: vocab["[UNK]"],
	}
}

type word struct {
	text  string
	start int
	end   int
}

type piece struct {
	id    int64
	start int
	end   int
}

// Encode tokenizes text into a fixed-length encoding of seqLen positions:
// [CLS] pieces... [SEP] padding. Text past the window is truncated.
func (t *Tokenizer) Encode(text string, seqLen int) *Encoding {
	if seqLen <= 0 {
		return nil
	}

	enc := &Encoding{
		InputIDs: []int64{t.clsID},
		Offsets:  []Span{{-1, -1}},
	}

encode:
	for _, w := range splitWords(text) {
		lowered, toOriginal := lowerWord(w.text)
		for _, p := range t.wordPiece(lowered) {
			enc.InputIDs = append(enc.InputIDs, p.id)
			enc.Offsets = append(enc.Offsets, Span{w.start + toOriginal[p.start], w.start + toOriginal[p.end]})
			if len(enc.InputIDs) >= seqLen-1 {
				break encode
			}
		}
	}
	enc.InputIDs = append(enc.InputIDs, t.sepID)
	enc.Offsets = append(enc.Offsets, Span{-1, -1})

	enc.AttentionMask = make([]int64, seqLen)
	for i := 0; i < len(enc.InputIDs); i++ {
		enc.AttentionMask[i] = 1
	}
	for len(enc.InputIDs) < seqLen {
		enc.InputIDs = append(enc.InputIDs, t.padID)
		enc.Offsets = append(enc.Offsets, Span{-1, -1})
	}
	return enc
}

// lowerWord lowercases a word for vocab lookup and returns a map from every
// byte position in the lowered form back to the matching byte position in
// the original word. Lowercasing can change a rune's UTF-8 width, so piece
// offsets must never index the original text directly.
func lowerWord(text string) (string, []int) {
	var b strings.Builder
	toOriginal := make([]int, 0, len(text)+1)
	for i, r := range text {
		low := string(unicode.ToLower(r))
		for j := 0; j < len(low); j++ {
			toOriginal = append(toOriginal, i)
		}
		b.WriteString(low)
	}
	toOriginal = append(toOriginal, len(text))
	return b.String(), toOriginal
}

// wordPiece splits one lowercased word greedily, longest-match-first, with
// the "##" continuation prefix. An uncoverable word becomes a single [UNK]
// spanning the whole word.
func (t *Tokenizer) wordPiece(token string) []piece {
	if id, ok := t.vocab[token]; ok {
		return []piece{{id: id, start: 0, end: len(token)}}
	}

	var pieces []piece
	start := 0
	for start < len(token) {
		end := len(token)
		found := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, piece{id: id, start: start, end: end})
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []piece{{id: t.unkID, start: 0, end: len(token)}}
		}
	}
	return pieces
}

// splitWords splits on whitespace and breaks punctuation into its own words,
// preserving byte offsets into the original text.
func splitWords(text string) []word {
	var words []word
	start := -1
	flush := func(end int) {
		if start >= 0 {
			words = append(words, word{text: text[start:end], start: start, end: end})
			start = -1
		}
	}
	for idx, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(idx)
		case isPunct(r):
			flush(idx)
			end := idx + len(string(r))
			words = append(words, word{text: text[idx:end], start: idx, end: end})
		default:
			if start < 0 {
				start = idx
			}
		}
	}
	flush(len(text))
	return words
}

func isPunct(r rune) bool {
	// '@', '.', '-' stay attached so emails, phone numbers, and IPs survive
	// as single words; their rules rely on whole-value spans.
	switch r {
	case '@', '.', '-', '_', '+', ':', '/':
		return false
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
