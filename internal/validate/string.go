// Package validate holds input validation and sanitization for the API's
// user-supplied strings.
package validate

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmpty             = errors.New("string is empty")
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrSQLKeyword        = errors.New("string contains SQL keywords")
)

// SQL keyword screening is a secondary heuristic on fields that end up in
// admin views and exports; parameterized queries remain the actual defense.
// Keywords match on word boundaries so names like "Selective Reasoning" or
// "The Executive" pass.
var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC|EXECUTE|UNION)\b`)
	sqlMetaSequences  = []string{"--", "/*", "*/", ";--", "xp_", "sp_"}
)

var promptSetNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _\-\.]+$`)

// StringConstraints describes what a string field accepts. Lengths are in
// runes, not bytes; zero means unconstrained.
type StringConstraints struct {
	MinLength        int
	MaxLength        int
	AllowedPattern   *regexp.Regexp
	DisallowedWords  []string // case-insensitive substring match
	CheckSQLKeywords bool
	AllowEmpty       bool
	TrimSpace        bool
}

// String checks s against the constraints and returns it, trimmed when
// TrimSpace is set.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if constraints.AllowEmpty {
			return s, nil
		}
		return "", ErrEmpty
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	if constraints.CheckSQLKeywords {
		if err := screenSQL(s); err != nil {
			return "", err
		}
	}
	for _, word := range constraints.DisallowedWords {
		if strings.Contains(strings.ToUpper(s), strings.ToUpper(word)) {
			return "", fmt.Errorf("string contains disallowed word: %q", word)
		}
	}

	return s, nil
}

func screenSQL(s string) error {
	if match := sqlKeywordPattern.FindString(s); match != "" {
		return fmt.Errorf("%w: contains %q", ErrSQLKeyword, match)
	}
	lower := strings.ToLower(s)
	for _, seq := range sqlMetaSequences {
		if strings.Contains(lower, seq) {
			return fmt.Errorf("%w: contains %q", ErrSQLKeyword, seq)
		}
	}
	return nil
}

// SanitizeHTML escapes HTML metacharacters in user-supplied text that may
// be rendered in a browser.
func SanitizeHTML(s string) string {
	return html.EscapeString(s)
}

// SanitizeString validates then HTML-escapes in one step.
func SanitizeString(s string, constraints StringConstraints) (string, error) {
	validated, err := String(s, constraints)
	if err != nil {
		return "", err
	}
	return SanitizeHTML(validated), nil
}

// PromptSetName validates a benchmark set title: 1-100 characters drawn
// from letters, digits, spaces, dash, underscore, and period, with no
// standalone SQL keywords.
func PromptSetName(name string) (string, error) {
	return SanitizeString(name, StringConstraints{
		MinLength:        1,
		MaxLength:        100,
		AllowedPattern:   promptSetNamePattern,
		CheckSQLKeywords: true,
		TrimSpace:        true,
	})
}
