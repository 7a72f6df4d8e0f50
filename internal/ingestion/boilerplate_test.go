package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripper(t *testing.T) *BoilerplateStripper {
	t.Helper()
	s, err := NewBoilerplateStripper(StripperConfig{})
	require.NoError(t, err)
	return s
}

func TestNewBoilerplateStripper_InvalidPattern(t *testing.T) {
	_, err := NewBoilerplateStripper(StripperConfig{FooterPattern: "["})
	assert.Error(t, err)

	_, err = NewBoilerplateStripper(StripperConfig{HeaderPattern: "("})
	assert.Error(t, err)
}

func TestStrip_RemovesFooter(t *testing.T) {
	s := newTestStripper(t)

	got := s.Strip("Neural networks learn weights.\nSt. Joseph's College of Engineering 42 Dept of AML")
	assert.Equal(t, "Neural networks learn weights.", got)

	// Spacing and apostrophe variants.
	got = s.Strip("St Josephs College of Engineering 7 Dept of AML\nBackpropagation uses the chain rule.")
	assert.Equal(t, "Backpropagation uses the chain rule.", got)
}

func TestStrip_RemovesCourseHeader(t *testing.T) {
	s := newTestStripper(t)

	got := s.Strip("ML1234 Machine Learning Fundamentals 2023 - 2024 Unit-II Class Notes\nSupervised learning maps inputs to labels.")
	assert.Equal(t, "Supervised learning maps inputs to labels.", got)

	got = s.Strip("ML5678 Deep Learning 2024-2025 Unit III\nConvolutions share parameters.")
	assert.Equal(t, "Convolutions share parameters.", got)
}

func TestStrip_RemovesPageNumberLines(t *testing.T) {
	s := newTestStripper(t)

	tests := []string{
		"12",
		"- 12 -",
		"Page 12",
		"page  3",
	}

	for _, line := range tests {
		got := s.Strip(line + "\nActual content survives.")
		assert.Equal(t, "Actual content survives.", got, "line %q should be dropped", line)
	}

	// A line with a number embedded in prose is content, not a page marker.
	got := s.Strip("Chapter 12 covers regularization.")
	assert.Equal(t, "Chapter 12 covers regularization.", got)
}

func TestStrip_SuppressesDuplicateLines(t *testing.T) {
	s := newTestStripper(t)

	page := "Page 12\nSt. Joseph's College of Engineering 3 Dept of AML\nHello world.\n\nHello world.\n"
	got := s.Strip(page)

	assert.Equal(t, "Hello world.", got)
	assert.Equal(t, 1, strings.Count(got, "Hello world."))
	assert.NotContains(t, got, "Page 12")
	assert.NotContains(t, got, "Dept of AML")
}

func TestStrip_DuplicateScopeIsPerCall(t *testing.T) {
	s := newTestStripper(t)

	// The same definition on two pages is kept on both when each page is
	// stripped independently.
	first := s.Strip("Entropy measures uncertainty.")
	second := s.Strip("Entropy measures uncertainty.")
	assert.Equal(t, first, second)
	assert.Equal(t, "Entropy measures uncertainty.", second)
}

func TestStripWithSeen_DocumentScope(t *testing.T) {
	s := newTestStripper(t)
	seen := make(map[string]struct{})

	first := s.StripWithSeen("Entropy measures uncertainty.", seen)
	second := s.StripWithSeen("Entropy measures uncertainty.\nCross-entropy compares distributions.", seen)

	assert.Equal(t, "Entropy measures uncertainty.", first)
	assert.Equal(t, "Cross-entropy compares distributions.", second)
}

func TestStrip_Idempotent(t *testing.T) {
	s := newTestStripper(t)

	page := "ML1234 Machine Learning 2023 - 2024 Unit-I\nGradient descent steps downhill.\n14\nGradient descent steps downhill.\nSt. Joseph's College of Engineering 14 Dept of AML"
	once := s.Strip(page)
	twice := s.Strip(once)
	assert.Equal(t, once, twice)
}

func TestStrip_EmptyAndBoilerplateOnly(t *testing.T) {
	s := newTestStripper(t)

	assert.Equal(t, "", s.Strip(""))
	assert.Equal(t, "", s.Strip("Page 3\nSt. Joseph's College of Engineering 3 Dept of AML"))
}
