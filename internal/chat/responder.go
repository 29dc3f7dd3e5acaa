package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// Responder is the deterministic keyword-matching substitute for the remote
// assistant. It answers common intents from a static ordered rule table with
// no state, no side effects and no network access; the same input always
// yields the same reply. It is also the single intent table used by the
// webhook relay, so rule wording lives in exactly one place.
type Responder struct {
	rules []rule
}

type rule struct {
	name   string
	match  func(lower string) bool
	render func(original string) string
}

var orderIDPattern = regexp.MustCompile(`ORD-\d+`)

// defaultOrderID is used when no order identifier is embedded in the input.
const defaultOrderID = "ORD-001"

// placeholderReply is returned by the bridge when the poll budget is
// exhausted without a qualifying assistant reply.
const placeholderReply = "I received your message and I'm still processing it. Please give me a moment and I'll follow up shortly."

// NewResponder builds the rule table. Rules are evaluated in declaration
// order; the first match wins.
func NewResponder() *Responder {
	return &Responder{rules: []rule{
		{
			name: "order_tracking",
			match: func(lower string) bool {
				return strings.Contains(lower, "order") && containsAny(lower,
					"status", "track", "where", "shipped", "delivered")
			},
			render: func(original string) string {
				orderID := orderIDPattern.FindString(original)
				if orderID == "" {
					orderID = defaultOrderID
				}
				return fmt.Sprintf("I found your order %s! It's currently shipped and on its way. You can track it with tracking number TRK-%s. Would you like me to help with anything else?", orderID, orderID)
			},
		},
		{
			name: "return_refund",
			match: func(lower string) bool {
				return containsAny(lower, "return", "refund")
			},
			render: func(string) string {
				return "I can help you process a return! To start a return, I'll need your order ID. Once you provide it, I can generate a return label and walk you through the process. Our return policy allows returns within 30 days for unworn items in original packaging. What's your order ID?"
			},
		},
		{
			name: "store_hours",
			match: func(lower string) bool {
				return containsAny(lower, "hours", "open", "close")
			},
			render: func(string) string {
				return "Our store hours are:\n• Monday-Thursday: 9AM-8PM\n• Friday: 9AM-9PM\n• Saturday: 10AM-8PM\n• Sunday: 11AM-6PM\n\nWe're located at 789 Fashion Blvd, San Francisco, CA 94102. You can also reach us at (555) 123-4567. Is there anything else I can help you with?"
			},
		},
		{
			name: "shipping",
			match: func(lower string) bool {
				return containsAny(lower, "shipping", "delivery")
			},
			render: func(string) string {
				return "We offer free shipping on orders over $100! Standard shipping is $9.99 for orders under $100 and takes 3-5 business days. Expedited shipping is available for $19.99 and takes 1-2 business days. Would you like to know more about our shipping options?"
			},
		},
		{
			name: "sizing",
			match: func(lower string) bool {
				return containsAny(lower, "size", "fit")
			},
			render: func(string) string {
				return "Our shoes run true to size. If you're between sizes, I recommend sizing up. Each product page has a detailed size guide with measurements. You can also visit our store at 789 Fashion Blvd to try on shoes in person. Need help finding the right size for a specific product?"
			},
		},
		{
			name: "escalation",
			match: func(lower string) bool {
				return containsAny(lower, "agent", "human", "speak to someone")
			},
			render: func(string) string {
				return "I understand you'd like to speak with a human agent. Let me connect you with one of our customer service representatives. Please hold while I transfer you..."
			},
		},
	}}
}

// Respond evaluates the rule table against the trimmed, lower-cased input
// and returns the first matching template. Unmatched input gets a generic
// reply echoing the user's text and offering the known intents.
func (r *Responder) Respond(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, rl := range r.rules {
		if rl.match(lower) {
			return rl.render(trimmed)
		}
	}
	return fmt.Sprintf("I understand you're asking about %q. While I can help with order tracking, returns, store hours, shipping, and sizing, I might need to connect you with a human agent for more specific assistance. Would you like me to help with something else, or would you prefer to speak with a customer service representative?", trimmed)
}

// MatchedRule returns the name of the rule that would answer the input, or
// empty for the default reply. Used by tests and the webhook relay to tag
// tool-style responses.
func (r *Responder) MatchedRule(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, rl := range r.rules {
		if rl.match(lower) {
			return rl.name
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
