package ingestion

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes extracted page text so that downstream regex
// matching and splitting see one consistent form. Order matters: Unicode
// normalization first, then the substitution table, then whitespace collapse.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

var punctReplacer = strings.NewReplacer(
	"—", "-", // em dash
	"–", "-", // en dash
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"…", "...", // ellipsis
	" ", " ", // non-breaking space
	"​", "", // zero-width space
)

var (
	multiNewline = regexp.MustCompile(`\n{2,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize is a pure function and idempotent: applying it to its own output
// returns the same string.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFKC.String(text)
	text = punctReplacer.Replace(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == 0x7f {
			return -1
		}
		return r
	}, text)

	text = multiNewline.ReplaceAllString(text, "\n")
	text = multiSpace.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
