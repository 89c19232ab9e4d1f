package chatports

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// Record is one settled question/answer pair as persisted by a turn store.
type Record struct {
	ID             string // unique per save
	ConversationID string // groups the turns of one conversation
	TurnID         string // stable across retries
	UserID         string
	TenantID       string // optional
	Question       string
	Answer         model.Answer
	CreatedAt      time.Time
}

// Persister saves settled turns. Implementations may be slow; callers run
// them off the hot path.
type Persister interface {
	SaveTurn(ctx context.Context, rec Record) error
}

// HistorySource returns the records of a conversation, oldest first.
type HistorySource interface {
	LoadHistory(ctx context.Context, conversationID string) ([]Record, error)
}

// TurnStore is a backing store that both saves and hydrates.
type TurnStore interface {
	Persister
	HistorySource
}

// SessionRecorder receives the conversation when a non-streaming response
// hands back a string session token.
type SessionRecorder interface {
	RecordSession(ctx context.Context, conversationID, sessionID string, turns []model.Turn) error
}
