package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMaxTitleLength = 80

	untitled      = "Untitled"
	unknownAuthor = "Unknown"
	ellipsis      = "..."
)

// titlePunct is the punctuation kept in object names. Everything else that is
// not a letter, digit or space is dropped.
const titlePunct = ".,!-;'()[]"

var authorCaser = cases.Title(language.Und)

// SynthesizeBaseName builds "{title} - {Author}" with the default title budget.
func SynthesizeBaseName(title, author string) string {
	return SynthesizeBaseNameN(title, author, DefaultMaxTitleLength)
}

// SynthesizeBaseNameN is SynthesizeBaseName with an explicit title budget.
// It is total: any input yields a non-empty name.
func SynthesizeBaseNameN(title, author string, maxLen int) string {
	if maxLen <= len(ellipsis) {
		maxLen = DefaultMaxTitleLength
	}

	t := truncateTitle(sanitizeTitle(title), maxLen)
	if t == "" {
		t = untitled
	}
	a := capitalizeAuthor(author)
	if a == "" {
		a = unknownAuthor
	}
	return t + " - " + a
}

// VideoFileName and AudioFileName append the artifact extension.
func VideoFileName(base, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp4"
	}
	return base + "." + ext
}

func AudioFileName(base string) string {
	return base + ".mp3"
}

// sanitizeTitle keeps letters, digits, whitespace and titlePunct, then
// collapses runs of whitespace.
func sanitizeTitle(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(titlePunct, r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateTitle cuts s to at most maxLen runes at the last space before the
// limit. A single word longer than the limit is the only case where a word
// is cut.
func truncateTitle(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	head := runes[:maxLen]
	if idx := lastSpace(head); idx > 0 {
		return strings.TrimRight(string(head[:idx]), " ")
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// capitalizeAuthor turns handles like "jane_doe.official" into
// "Jane Doe Official".
func capitalizeAuthor(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|#@`, r) {
			return ' '
		}
		return r
	}, s)
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	return authorCaser.String(strings.Join(words, " "))
}

// ValidateTitle reports quality problems with a fetched title. The result is
// informational only.
func ValidateTitle(title string, maxLen int) []string {
	if maxLen <= len(ellipsis) {
		maxLen = DefaultMaxTitleLength
	}
	var warnings []string
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return append(warnings, "title is empty; using \""+untitled+"\"")
	}
	clean := sanitizeTitle(trimmed)
	hasAlnum := false
	for _, r := range clean {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	if !hasAlnum {
		warnings = append(warnings, "title has no letters or digits after sanitising")
	}
	if len([]rune(clean)) > maxLen {
		warnings = append(warnings, "title was truncated to fit the name budget")
	}
	return warnings
}
