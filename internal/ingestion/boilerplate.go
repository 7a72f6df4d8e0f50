package ingestion

import (
	"regexp"
	"strings"
)

// Default patterns for the class-notes corpus. The footer is emitted by the
// PDF export on every page; the header carries course code, title, year range
// and unit numeral in varying spacing.
const (
	defaultFooterPattern = `(?i)St\.?\s*Joseph'?s\s+College\s+of\s+Engineering\s+\d+\s+Dept\s+of\s+AML`
	defaultHeaderPattern = `(?i)ML\d{4}\s+[A-Za-z0-9\s\-:&,]+?\s+\d{4}\s*-\s*\d{4}\s+Unit[-\s]*[IVXLC0-9]+(?:\s+Class\s+Notes)?`
)

var pageNumberLine = regexp.MustCompile(`(?i)^[-\s]*(?:page\s*)?\d+[-\s]*$`)

type StripperConfig struct {
	FooterPattern string
	HeaderPattern string
}

// BoilerplateStripper removes recurring non-content text: institutional
// footers, course headers, page-number lines and repeated lines. It holds no
// per-document state, so one instance is safe across concurrent pipelines.
type BoilerplateStripper struct {
	footerRe *regexp.Regexp
	headerRe *regexp.Regexp
}

func NewBoilerplateStripper(cfg StripperConfig) (*BoilerplateStripper, error) {
	if cfg.FooterPattern == "" {
		cfg.FooterPattern = defaultFooterPattern
	}
	if cfg.HeaderPattern == "" {
		cfg.HeaderPattern = defaultHeaderPattern
	}

	footerRe, err := regexp.Compile(cfg.FooterPattern)
	if err != nil {
		return nil, err
	}
	headerRe, err := regexp.Compile(cfg.HeaderPattern)
	if err != nil {
		return nil, err
	}

	return &BoilerplateStripper{
		footerRe: footerRe,
		headerRe: headerRe,
	}, nil
}

// Strip cleans one page of already-normalized text. Duplicate-line
// suppression is scoped to this call: legitimate repetition across pages
// (formulas, definitions) is not suppressed.
func (s *BoilerplateStripper) Strip(text string) string {
	return s.StripWithSeen(text, nil)
}

// StripWithSeen is Strip with a caller-owned duplicate set, for callers that
// want suppression to persist across a whole document instead of one page.
// Passing nil gives per-page semantics.
func (s *BoilerplateStripper) StripWithSeen(text string, seen map[string]struct{}) string {
	if seen == nil {
		seen = make(map[string]struct{})
	}

	text = s.footerRe.ReplaceAllString(text, "")
	text = s.headerRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if pageNumberLine.MatchString(line) {
			continue
		}
		if s.headerRe.MatchString(line) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}
