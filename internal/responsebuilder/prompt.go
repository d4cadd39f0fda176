// Package responsebuilder implements the Response Builder (spec §4.3):
// prompt assembly from ranked hits, LLM invocation, and final answer
// construction.
package responsebuilder

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opskb/ragd/internal/model"
)

// charsPerToken approximates tokens from character count (spec §4.3: "a
// token budget... estimated by 4 chars/token").
const charsPerToken = 4

const conciseSystemPrompt = `You are an IT helpdesk assistant. Answer the user's question using only the provided context. Keep the answer to about 120 words. If the context does not contain the answer, say so plainly.`

const detailedSystemPrompt = `You are an IT helpdesk assistant. Answer the user's question using only the provided context, explaining any steps in full. Keep the answer to about 400 words. If the context does not contain the answer, say so plainly.`

const noContextDisclaimer = `No relevant internal documentation was found for this question. Answer from general knowledge and clearly tell the user this answer is not backed by internal documentation.`

func systemPrompt(mode model.Mode) string {
	if mode == model.ModeDetailed {
		return detailedSystemPrompt
	}
	return conciseSystemPrompt
}

func maxTokensForMode(mode model.Mode) int {
	if mode == model.ModeDetailed {
		return 700
	}
	return 250
}

// buildContextBlock renders ranked hits as spec §4.3 describes:
// "[i] title — source — url\nsnippet" per hit, in descending rank order,
// truncated from the tail of the list and then the tail of the last
// surviving snippet to fit budgetTokens.
func buildContextBlock(hits []model.RankedHit, budgetTokens int) (string, []model.RankedHit) {
	budgetChars := budgetTokens * charsPerToken
	if budgetChars <= 0 || len(hits) == 0 {
		return "", nil
	}

	var b strings.Builder
	used := make([]model.RankedHit, 0, len(hits))
	remaining := budgetChars

	for i, h := range hits {
		entry := formatEntry(i+1, h)
		if len(entry) <= remaining {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(entry)
			remaining -= len(entry)
			used = append(used, h)
			continue
		}

		truncated := truncateEntry(i+1, h, remaining, b.Len() > 0)
		if truncated != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(truncated)
			used = append(used, h)
		}
		break
	}

	return b.String(), used
}

func formatEntry(rank int, h model.RankedHit) string {
	return fmt.Sprintf("[%d] %s — %s — %s\n%s", rank, h.Hit.Payload.Title, h.Hit.SourceId, h.Hit.Payload.URL, h.Hit.Payload.Snippet)
}

// truncateEntry fits one entry into the remaining character budget by
// cutting from the tail of its snippet, per spec §4.3.
func truncateEntry(rank int, h model.RankedHit, remaining int, needsSeparator bool) string {
	sep := 0
	if needsSeparator {
		sep = 2 // "\n\n"
	}
	header := fmt.Sprintf("[%d] %s — %s — %s\n", rank, h.Hit.Payload.Title, h.Hit.SourceId, h.Hit.Payload.URL)
	room := remaining - sep - len(header)
	if room <= 0 {
		return ""
	}
	snippet := h.Hit.Payload.Snippet
	if len(snippet) > room {
		snippet = snippet[:room]
	}
	return header + snippet
}

// BuildMessages assembles the system/user message pair the LLM client
// sends for a single invocation.
func BuildMessages(q model.Query, contextBlock string, hadHits bool) []openai.ChatCompletionMessage {
	sys := systemPrompt(q.NormalizedMode())
	if !hadHits {
		sys = sys + "\n\n" + noContextDisclaimer
	}

	var userContent string
	if contextBlock != "" {
		userContent = "Context:\n" + contextBlock + "\n\nQuestion:\n" + q.Text
	} else {
		userContent = q.Text
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys},
		{Role: openai.ChatMessageRoleUser, Content: userContent},
	}
}
