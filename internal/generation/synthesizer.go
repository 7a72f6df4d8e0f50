package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/llm"
	"github.com/studyrag/backend/internal/metrics"
	"github.com/studyrag/backend/internal/retrieval"
	"github.com/studyrag/backend/pkg/logger"
)

const noContextPlaceholder = "No relevant information found in the knowledge base."

const answerSystemPrompt = `You are an expert educational assistant helping students understand complex topics.

Use the retrieved course material to answer the student's question accurately and comprehensively.

Guidelines:
- Answer based primarily on the provided context
- If the context doesn't fully answer the question, say so clearly
- Provide clear, step-by-step explanations when appropriate
- Use examples from the context when available
- Keep responses focused and relevant
- Be encouraging and supportive in your tone`

// Completer is the generation capability the synthesizer invokes.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Synthesizer assembles a bounded context window from ranked chunks and asks
// the generation capability for a grounded answer. Generation failures never
// reach the caller: they degrade to an apology string. When retrieval found
// nothing at all, Fallback produces a templated answer with no LLM call.
type Synthesizer struct {
	completer Completer
	maxChunks int
}

func NewSynthesizer(completer Completer, maxChunks int) *Synthesizer {
	if maxChunks <= 0 {
		maxChunks = 5
	}
	return &Synthesizer{
		completer: completer,
		maxChunks: maxChunks,
	}
}

// Generate answers the question from the given ranked chunks. maxChunks <= 0
// uses the configured default.
func (s *Synthesizer) Generate(ctx context.Context, question string, chunks []retrieval.Result, subject, unit string, maxChunks int) string {
	if maxChunks <= 0 {
		maxChunks = s.maxChunks
	}

	contextBlock := buildContext(chunks, maxChunks)

	userPrompt := fmt.Sprintf(`Retrieved Context:
%s

Question: %s

Subject: %s
Unit: %s`, contextBlock, question, subject, unit)

	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		metrics.GenerationFailures.Inc()
		logger.Error("Failed to generate response",
			zap.String("subject", subject),
			zap.String("unit", unit),
			zap.Error(err),
		)
		return fmt.Sprintf("I apologize, but I encountered an error while generating a response. Please try again. (%s)", errorSummary(err))
	}

	return strings.TrimSpace(resp.Content)
}

// Fallback is the templated answer for zero retrieved chunks. It deliberately
// avoids the generation capability so it works even when that service is down.
func (s *Synthesizer) Fallback(question, subject, unit, reason string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "I apologize, but I couldn't find specific information about \"%s\" in the %s - %s materials.\n\n", question, subject, unit)

	b.WriteString("This could mean:\n")
	b.WriteString("1. The topic might not be covered in the available materials\n")
	b.WriteString("2. The question might need to be rephrased\n")
	b.WriteString("3. There might be an issue with the search system\n\n")

	b.WriteString("Please try:\n")
	b.WriteString("- Rephrasing your question\n")
	b.WriteString("- Asking about a specific concept from the unit\n")
	b.WriteString("- Checking if the topic is covered in the unit materials")

	if reason != "" {
		fmt.Fprintf(&b, "\n\nTechnical details: %s", reason)
	}

	return b.String()
}

// buildContext formats the top chunks as enumerated blocks. Empty contents
// are skipped; if nothing remains, a fixed placeholder keeps the template
// well-formed.
func buildContext(chunks []retrieval.Result, maxChunks int) string {
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}

	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		content := strings.TrimSpace(chunk.Content)
		if content == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Chunk %d]\n%s", len(blocks)+1, content))
	}

	if len(blocks) == 0 {
		return noContextPlaceholder
	}

	return strings.Join(blocks, "\n\n")
}

// errorSummary keeps user-facing failure text to one short line: the innermost
// error message, never a chain or stack.
func errorSummary(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		msg = msg[idx+2:]
	}
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
