package anonymizer

import "sort"

// replacement substitutes text[Start:End] with Value.
type replacement struct {
	Start int
	End   int
	Value string
}

// applyReplacements rewrites text with every replacement applied. Spans are
// processed in reverse start order so earlier substitutions never invalidate
// the byte offsets of later ones. Spans must not overlap.
func applyReplacements(text string, replacements []replacement) string {
	if len(replacements) == 0 {
		return text
	}

	ordered := make([]replacement, len(replacements))
	copy(ordered, replacements)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Start > ordered[j].Start
	})

	out := []byte(text)
	for _, r := range ordered {
		rebuilt := make([]byte, 0, len(out)-(r.End-r.Start)+len(r.Value))
		rebuilt = append(rebuilt, out[:r.Start]...)
		rebuilt = append(rebuilt, r.Value...)
		rebuilt = append(rebuilt, out[r.End:]...)
		out = rebuilt
	}
	return string(out)
}
