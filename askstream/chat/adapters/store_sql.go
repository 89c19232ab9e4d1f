package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

// timeLayout is fixed width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLTurnStore keeps turns in the local libsql/sqlite database created by
// askstream/db migrations.
type SQLTurnStore struct {
	db *sql.DB
}

// NewSQLTurnStore creates a new SQL turn store.
func NewSQLTurnStore(db *sql.DB) *SQLTurnStore {
	return &SQLTurnStore{
		db: db,
	}
}

// SaveTurn saves a turn. Saving a turn id that already exists in the
// conversation replaces the earlier row.
func (s *SQLTurnStore) SaveTurn(ctx context.Context, rec ports.Record) error {
	answerJSON, err := json.Marshal(rec.Answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	turnID := rec.TurnID
	if turnID == "" {
		turnID = id
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO conversation_turns
			(id, conversation_id, turn_id, user_id, tenant_id, question, answer_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		id, rec.ConversationID, turnID, rec.UserID, nullString(rec.TenantID),
		rec.Question, string(answerJSON), createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}

	return nil
}

// LoadHistory loads every turn of a conversation, oldest first.
func (s *SQLTurnStore) LoadHistory(ctx context.Context, conversationID string) ([]ports.Record, error) {
	query := `
		SELECT id, turn_id, user_id, tenant_id, question, answer_json, created_at
		FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var records []ports.Record
	for rows.Next() {
		var (
			rec        ports.Record
			tenantID   sql.NullString
			answerJSON string
			createdAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.TurnID, &rec.UserID, &tenantID, &rec.Question, &answerJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of turn %s: %w", rec.TurnID, err)
		}

		if err := json.Unmarshal([]byte(answerJSON), &rec.Answer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer of turn %s: %w", rec.TurnID, err)
		}
		rec.ConversationID = conversationID
		rec.TenantID = tenantID.String

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return records, nil
}

// RecordSession remembers the latest session token handed out for a
// conversation.
func (s *SQLTurnStore) RecordSession(ctx context.Context, conversationID, sessionID string, turns []model.Turn) error {
	query := `
		INSERT INTO conversation_sessions (conversation_id, session_id, turn_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			session_id = excluded.session_id,
			turn_count = excluded.turn_count,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, conversationID, sessionID, len(turns), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	return nil
}

// Session returns the session token recorded for a conversation.
func (s *SQLTurnStore) Session(ctx context.Context, conversationID string) (sessionID string, turnCount int, err error) {
	query := `SELECT session_id, turn_count FROM conversation_sessions WHERE conversation_id = ?`

	err = s.db.QueryRowContext(ctx, query, conversationID).Scan(&sessionID, &turnCount)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load session: %w", err)
	}
	return sessionID, turnCount, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure SQLTurnStore implements the store interfaces.
var (
	_ ports.TurnStore       = (*SQLTurnStore)(nil)
	_ ports.SessionRecorder = (*SQLTurnStore)(nil)
)
