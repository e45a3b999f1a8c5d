package util

import (
	"regexp"
	"strings"
	"unicode"
)

// SanitizeInput trims free text, drops control characters and collapses
// runs of whitespace to a single space.
func SanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// markupPattern matches the pieces of HTML or template syntax that have no
// business in a display name. Ordinary punctuation such as "$" or words
// like "Scripture" pass.
var markupPattern = regexp.MustCompile(`(?i)<\s*[a-z/!?]|javascript\s*:|\bon[a-z]+\s*=|\{\{|\$\{`)

// ContainsSuspicious reports whether s carries markup or template syntax.
func ContainsSuspicious(s string) bool {
	return markupPattern.MatchString(s)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NormalizePhone strips spaces, dashes and parentheses.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// ValidPhone reports whether a normalized number looks dialable.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,30}$`)

func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// UsernameFromEmail derives a username candidate from the local part of an
// address, keeping only characters ValidUsername accepts.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	var b strings.Builder
	for _, r := range local {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 24 {
		name = name[:24]
	}
	for len(name) < 3 {
		name += "_"
	}
	return name
}
