package tenancy

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,49}$`)

// NormalizeCode case-folds a raw tenant code and validates its shape.
func NormalizeCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidCode
	}
	// Casers carry state and are not safe to share across goroutines.
	code := cases.Upper(language.Und).String(raw)
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}
