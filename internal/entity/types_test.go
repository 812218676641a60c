package entity

import (
	"testing"
	"time"
)

func TestMatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		match   Match
		textLen int
		wantErr bool
	}{
		{"valid", Match{Start: 0, End: 4}, 10, false},
		{"at boundary", Match{Start: 6, End: 10}, 10, false},
		{"start equals end", Match{Start: 3, End: 3}, 10, true},
		{"start after end", Match{Start: 5, End: 3}, 10, true},
		{"negative start", Match{Start: -1, End: 3}, 10, true},
		{"end past text", Match{Start: 0, End: 11}, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.match.Validate(tt.textLen)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Match
		want bool
	}{
		{"disjoint", Match{Start: 0, End: 4}, Match{Start: 6, End: 10}, false},
		{"adjacent", Match{Start: 0, End: 4}, Match{Start: 4, End: 8}, false},
		{"partial", Match{Start: 0, End: 5}, Match{Start: 3, End: 8}, true},
		{"contained", Match{Start: 0, End: 10}, Match{Start: 2, End: 5}, true},
		{"identical", Match{Start: 2, End: 5}, Match{Start: 2, End: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			// Overlap is symmetric
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlaps() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMappingExpiry(t *testing.T) {
	now := time.Now()

	live := Mapping{ExpiresAt: now.Add(time.Hour)}
	if live.ExpiredAt(now) {
		t.Error("mapping expiring in an hour reported expired")
	}

	dead := Mapping{ExpiresAt: now.Add(-time.Second)}
	if !dead.ExpiredAt(now) {
		t.Error("mapping expired a second ago reported live")
	}
}

func TestFindPlaceholders(t *testing.T) {
	text := "Hello [PERSON_1], reach [EMAIL_1] or [PERSON_1] again"
	refs := FindPlaceholders(text)

	if len(refs) != 3 {
		t.Fatalf("expected 3 placeholders, got %d", len(refs))
	}
	if refs[0].Text != "[PERSON_1]" || refs[0].Start != 6 {
		t.Errorf("unexpected first placeholder: %+v", refs[0])
	}
	if refs[1].Text != "[EMAIL_1]" {
		t.Errorf("unexpected second placeholder: %+v", refs[1])
	}
	for _, ref := range refs {
		if text[ref.Start:ref.End] != ref.Text {
			t.Errorf("offsets do not match text: %+v", ref)
		}
	}

	if got := FindPlaceholders("no tokens here"); got != nil {
		t.Errorf("expected nil for text without placeholders, got %v", got)
	}
}

func TestValidSessionID(t *testing.T) {
	if !ValidSessionID("sess_0123456789ab") {
		t.Error("well-formed session id rejected")
	}
	for _, id := range []string{"", "sess_", "sess_XYZ", "sess_0123456789abcd", "other_0123456789ab"} {
		if ValidSessionID(id) {
			t.Errorf("malformed session id %q accepted", id)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("  John   Doe ") != "john doe" {
		t.Errorf("Normalize() = %q", Normalize("  John   Doe "))
	}
	if Normalize("JOHN DOE") != Normalize("john doe") {
		t.Error("case variants should normalize identically")
	}
}
