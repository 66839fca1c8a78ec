package router

import (
	"testing"

	"github.com/shoptalk/shoptalk/internal/session"
)

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		message  string
		wantKind string
	}{
		{"greeting", "Hello!", "none"},
		{"greeting thanks", "thanks", "none"},
		{"empty", "   ", "none"},
		{"chit-chat statement", "nice weather today", "none"},

		{"customer count", "How many customers do we have?", "hybrid"},
		{"customer listing imperative", "list customers", "structured"},
		{"product listing", "show products", "structured"},
		{"revenue", "total revenue this month", "structured"},
		{"inventory", "check stock levels please", "structured"},
		{"categories", "show categories", "structured"},

		{"document policy", "explain the return policy", "semantic"},
		{"open question", "what is the meaning of markdown?", "semantic"},
		{"shipping doc", "how long does shipping take?", "semantic"},

		{"order question hybrid", "what is the total for order 12?", "hybrid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Route(tt.message, nil)
			if d.Kind() != tt.wantKind {
				t.Fatalf("Route(%q).Kind() = %q, want %q (decision %+v)",
					tt.message, d.Kind(), tt.wantKind, d)
			}
		})
	}
}

func TestRoute_StructuredHints(t *testing.T) {
	t.Parallel()

	t.Run("order id extraction", func(t *testing.T) {
		t.Parallel()
		d := Route("what is the total for order #42?", nil)
		if d.Structured.Topic != TopicOrders {
			t.Errorf("Topic = %q, want orders", d.Structured.Topic)
		}
		if d.Structured.OrderID != 42 {
			t.Errorf("OrderID = %d, want 42", d.Structured.OrderID)
		}
	})

	t.Run("count flag", func(t *testing.T) {
		t.Parallel()
		d := Route("how many products are there", nil)
		if !d.Structured.Count {
			t.Errorf("Count = false, want true (decision %+v)", d)
		}
		if d.Structured.Topic != TopicProducts {
			t.Errorf("Topic = %q, want products", d.Structured.Topic)
		}
	})

	t.Run("latest flag", func(t *testing.T) {
		t.Parallel()
		d := Route("show the latest orders", nil)
		if !d.Structured.Latest || !d.Structured.Listing {
			t.Errorf("Latest/Listing = %v/%v, want true/true",
				d.Structured.Latest, d.Structured.Listing)
		}
	})

	t.Run("word boundaries", func(t *testing.T) {
		t.Parallel()
		// "border" must not trigger the orders topic.
		d := Route("tell me about the border styles in css", nil)
		if d.UseStructured {
			t.Errorf("substring matched across word boundary: %+v", d)
		}
	})
}

// Routing must be deterministic: same message and history, same decision.
func TestRoute_Deterministic(t *testing.T) {
	t.Parallel()

	history := []session.Turn{
		session.NewUserTurn("earlier message"),
		session.NewAssistantTurn("earlier answer"),
	}

	first := Route("how many orders were placed?", history)
	for range 20 {
		if got := Route("how many orders were placed?", history); got != first {
			t.Fatalf("Route() not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestRoute_SemanticQueryCarriesMessage(t *testing.T) {
	t.Parallel()

	d := Route("  what does the warranty cover?  ", nil)
	if !d.UseSemantic {
		t.Fatalf("UseSemantic = false, decision %+v", d)
	}
	if d.SemanticQuery != "what does the warranty cover?" {
		t.Errorf("SemanticQuery = %q", d.SemanticQuery)
	}
}
