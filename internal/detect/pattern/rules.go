package pattern

import (
	"regexp"

	"github.com/veil-sh/veil/internal/entity"
)

// Rule pairs a compiled expression with its entity type, a fixed confidence,
// and an optional validator. When a validator is present, a raw regex hit is
// only reported if the validator accepts it; validated rules carry higher
// confidence than unvalidated ones for that reason.
type Rule struct {
	Name       string
	Type       entity.Type
	Pattern    *regexp.Regexp
	Confidence float32
	Validate   func(match string) bool
}

// Validated reports whether the rule carries a checksum or structural
// validator, which the prefer-validated merge policy keys on.
func (r Rule) Validated() bool {
	return r.Validate != nil
}

// DefaultRules returns the built-in rule set. Order is fixed so detection is
// deterministic across runs.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "email",
			Type:       entity.TypeEmail,
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Confidence: 0.95,
			Validate:   validateEmail,
		},
		{
			Name:       "phone",
			Type:       entity.TypePhone,
			Pattern:    regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
			Confidence: 0.90,
			Validate:   validatePhone,
		},
		{
			Name:       "ssn",
			Type:       entity.TypeSSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence: 0.95,
			Validate:   ValidateSSN,
		},
		{
			Name:       "credit_card",
			Type:       entity.TypeCreditCard,
			Pattern:    regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b|\b\d{15}\b`),
			Confidence: 0.95,
			Validate:   validateCardCandidate,
		},
		{
			Name:       "ip_address",
			Type:       entity.TypeIPAddress,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Confidence: 0.90,
			Validate:   ValidateIPv4,
		},
		{
			Name:       "url",
			Type:       entity.TypeURL,
			Pattern:    regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`),
			Confidence: 0.85,
		},
		{
			Name:       "api_key",
			Type:       entity.TypeAPIKey,
			Pattern:    regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:live|test|proj)[-_][A-Za-z0-9]{16,}\b|\bAKIA[0-9A-Z]{16}\b`),
			Confidence: 0.90,
		},
		{
			Name:       "date_of_birth",
			Type:       entity.TypeDateOfBirth,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`),
			Confidence: 0.75,
		},
		{
			Name:       "passport",
			Type:       entity.TypePassport,
			Pattern:    regexp.MustCompile(`\b[A-Z]{1,2}\d{7,8}\b`),
			Confidence: 0.75,
		},
		{
			Name:       "bank_account",
			Type:       entity.TypeBankAccount,
			Pattern:    regexp.MustCompile(`\b\d{8,17}\b`),
			Confidence: 0.70,
		},
		{
			Name:       "postal_code",
			Type:       entity.TypePostalCode,
			Pattern:    regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`),
			Confidence: 0.85,
		},
		{
			Name:       "address",
			Type:       entity.TypeAddress,
			Pattern:    regexp.MustCompile(`\b\d+\s+[A-Z][a-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Court|Ct)\b`),
			Confidence: 0.65,
		},
		{
			Name:       "organization",
			Type:       entity.TypeOrganization,
			Pattern:    regexp.MustCompile(`\b[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+(?:Inc|Corp|LLC|Ltd|Company|Co)\b`),
			Confidence: 0.65,
		},
		{
			Name:       "person_name",
			Type:       entity.TypePerson,
			Pattern:    regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`),
			Confidence: 0.60,
		},
	}
}
