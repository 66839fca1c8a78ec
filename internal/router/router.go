// Package router classifies incoming messages and decides which retrievers
// the orchestrator should consult.
//
// Route is a pure function: identical input and history always produce the
// same decision, so routing is testable in isolation. It never fails — when
// signals conflict or nothing matches, the decision is "neither" and the
// request proceeds as a pure generative answer.
package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shoptalk/shoptalk/internal/session"
)

// Topic identifies the relational domain a structured hint targets.
type Topic string

// Structured topics, matching the read-only commerce schema.
const (
	TopicCustomers  Topic = "customers"
	TopicProducts   Topic = "products"
	TopicOrders     Topic = "orders"
	TopicRevenue    Topic = "revenue"
	TopicInventory  Topic = "inventory"
	TopicCategories Topic = "categories"
)

// StructuredHint tells the structured retriever what to fetch.
type StructuredHint struct {
	Topic   Topic
	Count   bool  // "how many", "count"
	Listing bool  // "list", "show"
	Latest  bool  // "latest", "recent"
	OrderID int64 // extracted from "order 12" / "order #12"; 0 if absent
}

// Decision is the routing outcome for one message.
type Decision struct {
	UseStructured bool
	UseSemantic   bool
	Structured    StructuredHint
	SemanticQuery string
}

// Kind returns the tagged variant name for logging.
func (d Decision) Kind() string {
	switch {
	case d.UseStructured && d.UseSemantic:
		return "hybrid"
	case d.UseStructured:
		return "structured"
	case d.UseSemantic:
		return "semantic"
	default:
		return "none"
	}
}

// Keyword cue sets. Lexical matching keeps the router deterministic and
// cheap; the policy below resolves overlaps.
var (
	customerWords  = []string{"customer", "customers", "client", "clients"}
	productWords   = []string{"product", "products", "item", "items"}
	orderWords     = []string{"order", "orders", "purchase", "purchases"}
	revenueWords   = []string{"sales", "revenue", "total", "amount", "money"}
	inventoryWords = []string{"inventory", "stock", "quantity"}
	categoryWords  = []string{"category", "categories"}

	questionWords = []string{"how", "what", "where", "when", "why", "who", "which"}
	documentWords = []string{
		"document", "documents", "policy", "policies", "guide", "manual",
		"shipping", "return", "returns", "refund", "refunds", "warranty",
		"faq", "help", "support", "explain", "describe",
	}

	greetingWords = []string{
		"hi", "hello", "hey", "thanks", "thank you", "goodbye", "bye",
		"good morning", "good afternoon", "good evening",
	}
)

var orderIDPattern = regexp.MustCompile(`\border\s*#?\s*(\d+)`)

// Route classifies a message against the known schema domains and
// document-style phrasing. History is accepted for future contextual cues
// but does not currently influence the decision; passing the same history
// always yields the same result.
func Route(message string, _ []session.Turn) Decision {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return Decision{}
	}

	if isGreeting(lower) {
		return Decision{}
	}

	hint, structured := structuredHint(lower)
	semantic := semanticCue(lower)

	// Ambiguity policy: a false negative (skipping a useful retriever)
	// costs more than an unnecessary retrieval, so open questions that
	// also name a schema domain go hybrid.
	if structured && questionCue(lower) {
		semantic = true
	}

	d := Decision{
		UseStructured: structured,
		UseSemantic:   semantic,
		Structured:    hint,
	}
	if semantic {
		d.SemanticQuery = strings.TrimSpace(message)
	}
	return d
}

// structuredHint detects schema-domain cues and builds the retrieval hint.
// Topic precedence mirrors the order the cue sets are checked: an explicit
// order reference wins over a generic revenue word.
func structuredHint(lower string) (StructuredHint, bool) {
	var hint StructuredHint

	switch {
	case containsAny(lower, orderWords) || orderIDPattern.MatchString(lower):
		hint.Topic = TopicOrders
	case containsAny(lower, customerWords):
		hint.Topic = TopicCustomers
	case containsAny(lower, productWords):
		hint.Topic = TopicProducts
	case containsAny(lower, inventoryWords):
		hint.Topic = TopicInventory
	case containsAny(lower, categoryWords):
		hint.Topic = TopicCategories
	case containsAny(lower, revenueWords):
		hint.Topic = TopicRevenue
	default:
		return StructuredHint{}, false
	}

	hint.Count = strings.Contains(lower, "how many") || strings.Contains(lower, "count")
	hint.Listing = strings.Contains(lower, "list") || strings.Contains(lower, "show")
	hint.Latest = strings.Contains(lower, "latest") || strings.Contains(lower, "recent")

	if m := orderIDPattern.FindStringSubmatch(lower); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			hint.OrderID = id
		}
	}

	return hint, true
}

// semanticCue reports document/knowledge-style phrasing.
func semanticCue(lower string) bool {
	if containsAny(lower, documentWords) {
		return true
	}
	// Open-domain questions with no schema cue lean on the document store.
	if _, structured := structuredHint(lower); !structured && questionCue(lower) {
		return true
	}
	return false
}

// questionCue reports interrogative phrasing.
func questionCue(lower string) bool {
	if strings.HasSuffix(lower, "?") {
		return true
	}
	for _, w := range questionWords {
		if strings.HasPrefix(lower, w+" ") {
			return true
		}
	}
	return false
}

// isGreeting reports pure chit-chat with no retrievable content.
func isGreeting(lower string) bool {
	trimmed := strings.Trim(lower, " !.,")
	for _, g := range greetingWords {
		if trimmed == g {
			return true
		}
	}
	return false
}

// containsAny reports whether lower contains any word as a whole token.
func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord matches w at token boundaries so "item" does not match
// inside "itemize" and "order" does not match inside "border".
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		startOK := start == 0 || !isWordByte(s[start-1])
		endOK := end == len(s) || !isWordByte(s[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
