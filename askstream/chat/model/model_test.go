package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAnswer(t *testing.T) {
	a := NewAnswer()

	assert.Equal(t, RoleAssistant, a.Message.Role)
	assert.Empty(t, a.Message.Content)
	assert.Contains(t, a.Context, ContextDataPoints)
	assert.Contains(t, a.Context, ContextFollowupQuestions)
	assert.Contains(t, a.Context, ContextThoughts)
	assert.Nil(t, a.SessionState)
}

func TestAnswer_CloneDetachesMaps(t *testing.T) {
	a := NewAnswer()
	a.SessionState = map[string]any{"id": "s1"}

	b := a.Clone()
	b.Context["extra"] = true
	b.SessionState.(map[string]any)["id"] = "s2"

	assert.NotContains(t, a.Context, "extra")
	assert.Equal(t, "s1", a.SessionState.(map[string]any)["id"])
}

func TestAnswer_SessionToken(t *testing.T) {
	a := NewAnswer()
	_, ok := a.SessionToken()
	assert.False(t, ok)

	a.SessionState = ""
	_, ok = a.SessionToken()
	assert.False(t, ok)

	a.SessionState = "conv-1"
	tok, ok := a.SessionToken()
	assert.True(t, ok)
	assert.Equal(t, "conv-1", tok)
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase   Phase
		pending bool
		settled bool
	}{
		{PhaseIdle, false, false},
		{PhaseSending, true, false},
		{PhaseStreaming, true, false},
		{PhaseSucceeded, false, true},
		{PhaseFailed, false, true},
		{PhaseRateLimited, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			assert.Equal(t, tt.pending, tt.phase.Pending())
			assert.Equal(t, tt.settled, tt.phase.Settled())
		})
	}
}

func TestTurn_Retryable(t *testing.T) {
	assert.True(t, Turn{Phase: PhaseFailed}.Retryable())
	assert.False(t, Turn{Phase: PhaseRateLimited}.Retryable())
	assert.False(t, Turn{Phase: PhaseSucceeded}.Retryable())
	assert.True(t, Turn{Phase: PhaseRateLimited}.IsFinal())
}
