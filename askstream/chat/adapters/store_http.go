package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

// ErrUnauthenticated is returned by SaveTurn when no token is available.
var ErrUnauthenticated = errors.New("no access token, turn not saved")

const maxHistoryBody = 16 << 20

// HTTPTurnStore saves and loads turns through the backend history endpoint.
type HTTPTurnStore struct {
	historyURL string
	client     *http.Client
	tokens     ports.TokenProvider
	logger     zerolog.Logger
}

// NewHTTPTurnStore creates a store rooted at historyURL, e.g.
// https://host/api/history/.
func NewHTTPTurnStore(historyURL string, client *http.Client, tokens ports.TokenProvider, logger zerolog.Logger) *HTTPTurnStore {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasSuffix(historyURL, "/") {
		historyURL += "/"
	}
	return &HTTPTurnStore{
		historyURL: historyURL,
		client:     client,
		tokens:     tokens,
		logger:     logger.With().Str("component", "http_turn_store").Logger(),
	}
}

type savePayload struct {
	UserID         string       `json:"userId"`
	TenantID       string       `json:"tenantId,omitempty"`
	ConversationID string       `json:"conversationId"`
	Question       string       `json:"question"`
	Answer         model.Answer `json:"answer"`
	HistoryBoxID   string       `json:"historyBoxId"`
	TurnID         string       `json:"turnId"`
}

// historyItem is one stored turn. Answer holds either plain text or an
// answer object.
type historyItem struct {
	ID       string          `json:"id"`
	TurnID   string          `json:"turnId"`
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`
}

// SaveTurn posts rec to the history endpoint. Each save gets its own
// conversationId; the conversation itself travels as historyBoxId.
func (s *HTTPTurnStore) SaveTurn(ctx context.Context, rec ports.Record) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token for save: %w", err)
	}
	if token == "" {
		return ErrUnauthenticated
	}

	body, err := json.Marshal(savePayload{
		UserID:         rec.UserID,
		TenantID:       rec.TenantID,
		ConversationID: rec.ID,
		Question:       rec.Question,
		Answer:         rec.Answer,
		HistoryBoxID:   rec.ConversationID,
		TurnID:         rec.TurnID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.historyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to save turn: %w", statusError(resp))
	}
	return nil
}

// LoadHistory fetches {history}/{conversationID}/.
func (s *HTTPTurnStore) LoadHistory(ctx context.Context, conversationID string) ([]ports.Record, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.historyURL+url.PathEscape(conversationID)+"/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token for history: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch history: %w", statusError(resp))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHistoryBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	items, err := decodeHistory(raw)
	if err != nil {
		return nil, err
	}

	records := make([]ports.Record, 0, len(items))
	for _, item := range items {
		answer, err := decodeHistoryAnswer(item.Answer)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", item.ID).Msg("Skipping history item with unreadable answer")
			continue
		}
		records = append(records, ports.Record{
			ID:             item.ID,
			ConversationID: conversationID,
			TurnID:         item.TurnID,
			Question:       item.Question,
			Answer:         answer,
		})
	}
	return records, nil
}

func decodeHistory(raw []byte) ([]historyItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var items []historyItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		return items, nil
	}

	var item historyItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return []historyItem{item}, nil
}

func decodeHistoryAnswer(raw json.RawMessage) (model.Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.TextAnswer(""), nil
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return model.Answer{}, err
		}
		return model.TextAnswer(text), nil
	}

	answer := model.NewAnswer()
	if err := json.Unmarshal(raw, &answer); err != nil {
		return model.Answer{}, err
	}
	return answer, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

var _ ports.TurnStore = (*HTTPTurnStore)(nil)
