package chat

import (
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/shoptalk/shoptalk/internal/retrieval"
	"github.com/shoptalk/shoptalk/internal/session"
)

// systemPrompt is the assistant's standing instruction set. Retrieved
// context is appended beneath it so the model treats it as ground truth for
// this turn only.
const systemPrompt = `You are a helpful assistant for an online store. Answer using the
provided context when it is relevant. When the context contains store data,
treat the stated figures as authoritative and do not recompute them. If the
context does not cover the question, say so rather than inventing details.
Keep answers concise.`

// buildSystem assembles the system prompt plus the retrieval context block.
// Structured fragments come before semantic ones, each tagged with its
// source so provenance survives into the prompt.
func buildSystem(fragments []retrieval.Fragment) string {
	if len(fragments) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nContext:\n")
	for _, f := range fragments {
		fmt.Fprintf(&b, "[%s] %s\n", f.Source, strings.TrimRight(f.Text, "\n"))
	}
	return b.String()
}

// buildMessages converts the (already truncated) history and the current
// input into model messages, oldest first, user message last.
func buildMessages(turns []session.Turn, input string) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns)+1)
	for _, t := range turns {
		switch t.Role {
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		default:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		}
	}
	return append(msgs, ai.NewUserMessage(ai.NewTextPart(input)))
}

// orderFragments returns structured fragments first, then semantic ones,
// preserving relative order within each source.
func orderFragments(structured, semantic []retrieval.Fragment) []retrieval.Fragment {
	out := make([]retrieval.Fragment, 0, len(structured)+len(semantic))
	out = append(out, structured...)
	return append(out, semantic...)
}
