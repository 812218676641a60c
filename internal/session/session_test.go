package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/veil-sh/veil/internal/entity"
)

func match(t entity.Type, value string) entity.Match {
	return entity.Match{Type: t, Value: value, End: len(value), Confidence: 0.9, Source: entity.SourcePattern}
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !entity.ValidSessionID(id) {
			t.Fatalf("generated id %q does not match the session id form", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestAssignNumbered(t *testing.T) {
	a := NewAssigner(Config{})

	placeholders, fresh := a.Assign("sess_000000000001", []entity.Match{
		match(entity.TypePerson, "John Doe"),
		match(entity.TypeEmail, "john@example.com"),
		match(entity.TypePerson, "Jane Roe"),
	})
	want := []string{"[PERSON_1]", "[EMAIL_1]", "[PERSON_2]"}
	for i, p := range want {
		if placeholders[i] != p {
			t.Errorf("placeholder[%d] = %s, want %s", i, placeholders[i], p)
		}
		if !fresh[i] {
			t.Errorf("placeholder[%d] should be fresh", i)
		}
	}
}

func TestAssignCountersAreSessionScoped(t *testing.T) {
	a := NewAssigner(Config{})

	first, _ := a.Assign("sess_aaaaaaaaaaaa", []entity.Match{match(entity.TypeEmail, "a@x.com")})
	second, _ := a.Assign("sess_bbbbbbbbbbbb", []entity.Match{match(entity.TypeEmail, "b@x.com")})
	if first[0] != "[EMAIL_1]" || second[0] != "[EMAIL_1]" {
		t.Errorf("counters leaked across sessions: %s %s", first[0], second[0])
	}
}

func TestAssignConsistency(t *testing.T) {
	a := NewAssigner(Config{Consistency: true})

	placeholders, fresh := a.Assign("sess_000000000001", []entity.Match{
		match(entity.TypeEmail, "john@example.com"),
		match(entity.TypeEmail, "JOHN@EXAMPLE.COM"),
		match(entity.TypeEmail, "other@example.com"),
	})
	if placeholders[0] != placeholders[1] {
		t.Errorf("same normalized value got different placeholders: %s vs %s", placeholders[0], placeholders[1])
	}
	if fresh[1] {
		t.Error("reused placeholder reported as fresh")
	}
	if placeholders[2] == placeholders[0] {
		t.Error("distinct values must not share a placeholder")
	}
}

func TestAssignWithoutConsistency(t *testing.T) {
	a := NewAssigner(Config{})

	placeholders, _ := a.Assign("sess_000000000001", []entity.Match{
		match(entity.TypeEmail, "john@example.com"),
		match(entity.TypeEmail, "john@example.com"),
	})
	if placeholders[0] == placeholders[1] {
		t.Error("consistency disabled, repeated value should still get a new placeholder")
	}
}

func TestAssignHashedFormat(t *testing.T) {
	a := NewAssigner(Config{PlaceholderFormat: FormatHashed})

	placeholders, _ := a.Assign("sess_000000000001", []entity.Match{
		match(entity.TypeEmail, "john@example.com"),
	})
	want := fmt.Sprintf("[EMAIL_%s]", entity.HashSuffix("john@example.com"))
	if placeholders[0] != want {
		t.Errorf("hashed placeholder = %s, want %s", placeholders[0], want)
	}
	refs := entity.FindPlaceholders(placeholders[0])
	if len(refs) != 1 {
		t.Errorf("hashed placeholder not recognized by the placeholder scanner")
	}
}

func TestAssignConcurrentSameSession(t *testing.T) {
	a := NewAssigner(Config{})
	const workers = 16

	var wg sync.WaitGroup
	results := make([][]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			placeholders, _ := a.Assign("sess_000000000001", []entity.Match{
				match(entity.TypeEmail, fmt.Sprintf("user%d@example.com", i)),
			})
			results[i] = placeholders
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r[0]] {
			t.Fatalf("placeholder %s minted twice under concurrency", r[0])
		}
		seen[r[0]] = true
	}
}

func TestForget(t *testing.T) {
	a := NewAssigner(Config{})

	a.Assign("sess_000000000001", []entity.Match{match(entity.TypeEmail, "a@x.com")})
	a.Forget("sess_000000000001")
	placeholders, _ := a.Assign("sess_000000000001", []entity.Match{match(entity.TypeEmail, "b@x.com")})
	if placeholders[0] != "[EMAIL_1]" {
		t.Errorf("counters should reset after Forget, got %s", placeholders[0])
	}
}
