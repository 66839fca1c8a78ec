// Package retrieval defines the evidence fragment type shared by the
// structured and semantic retrievers.
package retrieval

// Fragment source tags.
const (
	SourceStructured = "structured"
	SourceSemantic   = "semantic"
)

// Fragment is one piece of retrieved evidence, normalized for prompt
// inclusion. Fragments are built per request and discarded once the prompt
// is assembled; they are never persisted.
type Fragment struct {
	// Source is "structured" or "semantic".
	Source string

	// Text is the prompt-ready rendering of the evidence.
	Text string

	// Score is the relevance score for semantic fragments; zero for
	// structured fragments.
	Score float32

	// Citation identifies the evidence origin: "orders/12" for a table row,
	// "docs/return-policy#3" for a document chunk.
	Citation string
}
