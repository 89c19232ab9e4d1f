// Package model defines the values exchanged between the frame decoder, the
// merge engine and the conversation store.
package model

import "maps"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Well-known context keys. The backend may send others; they are kept as-is.
const (
	ContextDataPoints        = "data_points"
	ContextFollowupQuestions = "followup_questions"
	ContextThoughts          = "thoughts"
)

// Message is a single chat message as it appears on the wire.
type Message struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Answer is the structured reply being reconstructed for one turn.
//
// SessionState is opaque: the backend sends either an object
// (map[string]any) or a string continuation token.
type Answer struct {
	Message      Message        `json:"message"`
	Context      map[string]any `json:"context"`
	SessionState any            `json:"session_state"`
}

// NewAnswer returns the empty answer a pending turn starts from.
func NewAnswer() Answer {
	return Answer{
		Message: Message{Role: RoleAssistant},
		Context: map[string]any{
			ContextDataPoints:        []any{},
			ContextFollowupQuestions: []any{},
			ContextThoughts:          []any{},
		},
	}
}

// TextAnswer wraps plain assistant text, as returned by history endpoints
// that only store the message content.
func TextAnswer(content string) Answer {
	a := NewAnswer()
	a.Message.Content = content
	return a
}

// Clone copies the top-level maps so callers can modify the result without
// touching the receiver.
func (a Answer) Clone() Answer {
	out := a
	out.Context = maps.Clone(a.Context)
	if m, ok := a.SessionState.(map[string]any); ok {
		out.SessionState = maps.Clone(m)
	}
	return out
}

// SessionToken returns the session state when the backend sent it as a
// non-empty string.
func (a Answer) SessionToken() (string, bool) {
	s, ok := a.SessionState.(string)
	return s, ok && s != ""
}
