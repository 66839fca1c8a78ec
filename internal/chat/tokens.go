package chat

import (
	"slices"
	"unicode/utf8"

	"github.com/shoptalk/shoptalk/internal/session"
)

// TokenBudget manages context window limits.
type TokenBudget struct {
	MaxHistoryTokens int // maximum tokens for conversation history
	MaxInputTokens   int // maximum tokens for the user input
	ReservedTokens   int // reserved for system prompt, retrieval context, response
}

// DefaultTokenBudget returns conservative defaults for small local models.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		MaxHistoryTokens: 2000,
		MaxInputTokens:   1000,
		ReservedTokens:   1000,
	}
}

// estimateTokens provides a rough token count. Rune count divided by 2 is a
// conservative estimate that works for both English (~4 chars/token) and CJK
// (~1.5 chars/token) text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func estimateTurnsTokens(turns []session.Turn) int {
	total := 0
	for _, t := range turns {
		total += estimateTokens(t.Content)
	}
	return total
}

// truncateTurns removes the oldest turns until the history fits the budget.
// Retrieval context is never part of this slice, so it is never truncated
// here.
func (a *Agent) truncateTurns(turns []session.Turn, budget int) []session.Turn {
	if len(turns) == 0 {
		return turns
	}
	current := estimateTurnsTokens(turns)
	if current <= budget {
		return turns
	}

	a.logger.Debug("truncating history",
		"current_tokens", current, "budget", budget, "turn_count", len(turns))

	remaining := budget
	kept := make([]session.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		cost := estimateTokens(turns[i].Content)
		if remaining < cost {
			break
		}
		kept = append(kept, turns[i])
		remaining -= cost
	}
	slices.Reverse(kept)
	return kept
}

// truncateInput caps a single user message at the input budget, keeping the
// leading runes.
func truncateInput(input string, maxTokens int) string {
	if estimateTokens(input) <= maxTokens {
		return input
	}
	runes := []rune(input)
	return string(runes[:maxTokens*2])
}
