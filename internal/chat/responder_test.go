package chat

import (
	"strings"
	"testing"
)

func TestResponderRulePrecedence(t *testing.T) {
	r := NewResponder()

	tests := []struct {
		name     string
		input    string
		wantRule string
	}{
		{"order tracking", "Where is my order?", "order_tracking"},
		{"order status", "What's the status of my order ORD-123?", "order_tracking"},
		{"order beats return", "I want a refund on my order ORD-123, is it shipped?", "order_tracking"},
		{"return", "How do I return these boots?", "return_refund"},
		{"refund", "I'd like a refund please", "return_refund"},
		{"store hours", "What are your hours?", "store_hours"},
		{"open", "Are you open on Sunday?", "store_hours"},
		{"shipping", "How much is shipping?", "shipping"},
		{"delivery", "How long does delivery take?", "shipping"},
		{"sizing", "Does this run true to size?", "sizing"},
		{"fit", "How do these fit?", "sizing"},
		{"escalation agent", "Let me talk to an agent", "escalation"},
		{"escalation human", "I need a human", "escalation"},
		{"no match", "Tell me about your favorite color", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.MatchedRule(tt.input)
			if got != tt.wantRule {
				t.Errorf("MatchedRule(%q) = %q, want %q", tt.input, got, tt.wantRule)
			}
		})
	}
}

func TestResponderOrderIDExtraction(t *testing.T) {
	r := NewResponder()

	reply := r.Respond("Can you track my order ORD-456?")
	if !strings.Contains(reply, "ORD-456") {
		t.Errorf("expected reply to mention ORD-456, got %q", reply)
	}
	if !strings.Contains(reply, "TRK-ORD-456") {
		t.Errorf("expected reply to carry tracking number TRK-ORD-456, got %q", reply)
	}

	// No embedded order id falls back to the demo default.
	reply = r.Respond("Where is my order?")
	if !strings.Contains(reply, "ORD-001") {
		t.Errorf("expected fallback order id ORD-001, got %q", reply)
	}
}

func TestResponderDefaultReplyEchoesInput(t *testing.T) {
	r := NewResponder()

	reply := r.Respond("something entirely unrelated")
	if !strings.Contains(reply, `"something entirely unrelated"`) {
		t.Errorf("expected default reply to echo the input, got %q", reply)
	}
}

func TestResponderIsPure(t *testing.T) {
	r := NewResponder()

	inputs := []string{
		"Where is my order ORD-007?",
		"return please",
		"unmatched text",
	}
	for _, input := range inputs {
		first := r.Respond(input)
		for i := 0; i < 5; i++ {
			if got := r.Respond(input); got != first {
				t.Fatalf("Respond(%q) not deterministic: %q vs %q", input, first, got)
			}
		}
	}
}

func TestResponderCaseAndWhitespace(t *testing.T) {
	r := NewResponder()

	if got := r.MatchedRule("  RETURN my item  "); got != "return_refund" {
		t.Errorf("expected case/whitespace-insensitive match, got rule %q", got)
	}
}
