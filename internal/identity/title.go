package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeTitle cleans up a client-supplied title for display: collapses
// separator runs to spaces and applies title casing. Returns the fallback
// when nothing usable remains.
func NormalizeTitle(raw, fallback string) string {
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || isTitlePunct(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '_':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return fallback
	}
	if title == strings.ToLower(title) {
		// All-lowercase input was probably typed by hand; case it properly.
		title = cases.Title(language.Und).String(title)
	}
	return title
}

func isTitlePunct(r rune) bool {
	switch r {
	case '\'', '-', '(', ')', '.', ',', '&', '!', '?', ':':
		return true
	}
	return false
}
