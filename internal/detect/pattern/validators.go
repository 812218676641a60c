package pattern

import (
	"strconv"
	"strings"
)

// ValidateLuhn checks a digit string against the Luhn checksum. Separators
// must be stripped before calling.
func ValidateLuhn(number string) bool {
	digits := make([]int, 0, len(number))
	for _, r := range number {
		if r < '0' || r > '9' {
			continue
		}
		digits = append(digits, int(r-'0'))
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	for i := 0; i < len(digits); i++ {
		d := digits[len(digits)-1-i]
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// validateCardCandidate strips separators from a raw regex hit before the
// Luhn check, so "4111-1111-1111-1111" and "4111111111111111" both pass.
func validateCardCandidate(match string) bool {
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(match)
	return ValidateLuhn(cleaned)
}

// ValidateSSN applies the structural rules for US social security numbers:
// area 666, area 000, areas 900+, group 00, and serial 0000 are never issued.
func ValidateSSN(ssn string) bool {
	parts := strings.Split(ssn, "-")
	if len(parts) != 3 {
		return false
	}
	area, err1 := strconv.Atoi(parts[0])
	group, err2 := strconv.Atoi(parts[1])
	serial, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	if group == 0 || serial == 0 {
		return false
	}
	return true
}

// ValidateIPv4 rejects dotted quads whose octets exceed 255, which the regex
// alone cannot express cleanly.
func ValidateIPv4(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// validateEmail rejects degenerate regex hits with consecutive dots or a
// leading/trailing dot in the local part.
func validateEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	local := email[:at]
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(email, "..") {
		return false
	}
	return true
}

// validatePhone requires at least ten digits so short numeric fragments
// matched by the permissive regex are suppressed.
func validatePhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 14
}
