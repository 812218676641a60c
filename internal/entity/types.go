package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Type classifies the kind of sensitive data found. The string value is the
// placeholder prefix, so [PERSON_1] round-trips back to TypePerson.
type Type string

// Supported entity types for detection and anonymization.
const (
	TypePerson        Type = "PERSON"
	TypeEmail         Type = "EMAIL"
	TypePhone         Type = "PHONE"
	TypeSSN           Type = "SSN"
	TypeCreditCard    Type = "CREDIT_CARD"
	TypeIPAddress     Type = "IP_ADDRESS"
	TypeURL           Type = "URL"
	TypeDateOfBirth   Type = "DATE_OF_BIRTH"
	TypeBankAccount   Type = "BANK_ACCOUNT"
	TypeDriverLicense Type = "DRIVER_LICENSE"
	TypePassport      Type = "PASSPORT"
	TypeAddress       Type = "ADDRESS"
	TypePostalCode    Type = "POSTAL_CODE"
	TypeOrganization  Type = "ORGANIZATION"
	TypeAPIKey        Type = "API_KEY"
	TypeCustom        Type = "CUSTOM"
)

// Source identifies which detector produced a match.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceModel   Source = "model"
)

// Match is a detected entity span. Start and End are byte offsets into the
// original text with Start < End <= len(text). Matches are transient: they are
// never persisted, only their mappings are.
type Match struct {
	Type       Type              `json:"entity_type"`
	Value      string            `json:"-"` // original text, never serialized
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Confidence float32           `json:"confidence"`
	Source     Source            `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the span invariants against the text the match was
// produced from.
func (m Match) Validate(textLen int) error {
	if m.Start < 0 || m.Start >= m.End {
		return fmt.Errorf("invalid entity range %d..%d", m.Start, m.End)
	}
	if m.End > textLen {
		return fmt.Errorf("entity end %d exceeds text length %d", m.End, textLen)
	}
	return nil
}

// Overlaps reports whether two spans share at least one byte.
func Overlaps(a, b Match) bool {
	return a.Start < b.End && b.Start < a.End
}

// Mapping is the durable association between a placeholder and its original
// value, scoped to one session. The Vault exclusively owns the persisted form.
type Mapping struct {
	SessionID     string    `json:"session_id" db:"session_id"`
	Placeholder   string    `json:"placeholder" db:"placeholder"`
	Type          Type      `json:"entity_type" db:"entity_type"`
	OriginalValue string    `json:"original_value" db:"original_value"`
	Confidence    float32   `json:"confidence" db:"confidence"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the mapping's TTL has elapsed.
func (m Mapping) Expired() bool {
	return m.ExpiredAt(time.Now())
}

// ExpiredAt reports expiry relative to the given instant.
func (m Mapping) ExpiredAt(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Session is the isolation unit binding the mappings created by one
// anonymization context. Deanonymization against one session never resolves
// placeholders minted under another.
type Session struct {
	ID        string    `json:"session_id"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Mappings  []Mapping `json:"mappings"`
}

// placeholderPattern matches the lexical placeholder form [TYPE_N].
var placeholderPattern = regexp.MustCompile(`\[([A-Z_]+)_([0-9A-Za-z]+)\]`)

// sessionIDPattern matches ids minted by the placeholder manager.
var sessionIDPattern = regexp.MustCompile(`^sess_[0-9a-f]{12}$`)

// PlaceholderRef is an occurrence of a placeholder token in text.
type PlaceholderRef struct {
	Text  string
	Start int
	End   int
}

// FindPlaceholders scans text for placeholder tokens in occurrence order.
func FindPlaceholders(text string) []PlaceholderRef {
	locs := placeholderPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	refs := make([]PlaceholderRef, 0, len(locs))
	for _, loc := range locs {
		refs = append(refs, PlaceholderRef{
			Text:  text[loc[0]:loc[1]],
			Start: loc[0],
			End:   loc[1],
		})
	}
	return refs
}

// ValidSessionID reports whether id has the structure of a minted session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Normalize canonicalizes an original value for consistency lookups, so that
// "John Doe" and " john doe " share one placeholder within a session.
func Normalize(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// HashSuffix derives the 8-hex-character suffix the hashed placeholder
// format uses, computed over the normalized value so formatting differences
// collapse to one placeholder.
func HashSuffix(value string) string {
	sum := sha256.Sum256([]byte(Normalize(value)))
	return hex.EncodeToString(sum[:4])
}
