package credentials

import (
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLength    = 8
	strongPasswordLength = 12
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// PasswordStrength scores a candidate password for UI feedback.
type PasswordStrength struct {
	Score   int      `json:"score"`
	Label   string   `json:"label"`
	Missing []string `json:"missing,omitempty"`
}

// Acceptable reports whether every criterion is met.
func (s PasswordStrength) Acceptable() bool {
	return len(s.Missing) == 0
}

// ScorePassword awards one point per satisfied criterion: minimum length,
// lowercase, uppercase, digit and symbol.
func ScorePassword(password string) PasswordStrength {
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	length := utf8.RuneCountInString(password)

	var s PasswordStrength
	check := func(ok bool, missing string) {
		if ok {
			s.Score++
			return
		}
		s.Missing = append(s.Missing, missing)
	}
	check(length >= minPasswordLength, "at least 8 characters")
	check(lower, "a lowercase letter")
	check(upper, "an uppercase letter")
	check(digit, "a digit")
	check(symbol, "a symbol")
	s.Label = strengthLabel(s.Score, length)
	return s
}

func strengthLabel(score, length int) string {
	switch {
	case score <= 1:
		return "very weak"
	case score == 2:
		return "weak"
	case score == 3:
		return "fair"
	case score == 4 || length < strongPasswordLength:
		return "good"
	default:
		return "strong"
	}
}
