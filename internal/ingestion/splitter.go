package ingestion

import (
	"fmt"
	"regexp"
	"strings"
)

// Splitter segments page text hierarchically: paragraph breaks first, then
// single newlines, then sentence boundaries, then spaces, then raw runes as a
// last resort. Consecutive segments carry up to overlap characters of shared
// context. Splitting is deterministic for a given input and configuration.
type Splitter struct {
	chunkSize int
	overlap   int
}

func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunkSize), got overlap=%d chunkSize=%d", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

const (
	levelParagraph = iota
	levelLine
	levelSentence
	levelWord
	levelRune
)

var sentenceBoundary = regexp.MustCompile(`[.!?]\s`)

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	segments := s.split(text, levelParagraph)

	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func (s *Splitter) split(text string, level int) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	if level >= levelRune {
		return s.splitRunes(text)
	}

	pieces, sep := splitAtLevel(text, level)

	var final []string
	var fitting []string

	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if len(piece) <= s.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		// An oversized piece breaks the merge window: flush what fits, then
		// descend one level into the piece itself.
		if len(fitting) > 0 {
			final = append(final, s.merge(fitting, sep)...)
			fitting = nil
		}
		final = append(final, s.split(piece, level+1)...)
	}

	if len(fitting) > 0 {
		final = append(final, s.merge(fitting, sep)...)
	}

	return final
}

// merge greedily packs pieces into segments no longer than chunkSize. After a
// segment is emitted, trailing pieces totalling at most overlap characters
// stay in the window so the next segment starts with shared context.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := len(sep)

	var segments []string
	var window []string
	total := 0

	joinedLen := func(extra int) int {
		n := total + extra
		if len(window) > 0 {
			n += sepLen
		}
		return n
	}

	for _, piece := range pieces {
		if len(window) > 0 && joinedLen(len(piece)) > s.chunkSize {
			segments = append(segments, strings.Join(window, sep))

			for len(window) > 0 && (total > s.overlap || joinedLen(len(piece)) > s.chunkSize) {
				total -= len(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += len(piece)
	}

	if len(window) > 0 {
		segments = append(segments, strings.Join(window, sep))
	}

	return segments
}

// splitRunes is the character-level fallback: fixed stride of
// chunkSize-overlap runes. Only text with no usable separator ends up here.
func (s *Splitter) splitRunes(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func splitAtLevel(text string, level int) ([]string, string) {
	switch level {
	case levelParagraph:
		return strings.Split(text, "\n\n"), "\n\n"
	case levelLine:
		return strings.Split(text, "\n"), "\n"
	case levelSentence:
		return splitSentences(text), " "
	default:
		return strings.Split(text, " "), " "
	}
}

// splitSentences cuts after sentence-ending punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		out = append(out, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
