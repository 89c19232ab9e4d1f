// Package chattest provides a scripted chat backend for tests and local
// demos. It speaks the same wire format as the real service: a POST to the
// chat path answered by an event stream or a JSON body, and a history
// endpoint that stores and returns saved turns.
package chattest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// Request is a chat request as received by the backend.
type Request struct {
	Messages      []model.Message `json:"messages"`
	Context       map[string]any  `json:"context"`
	SessionState  any             `json:"session_state"`
	Authorization string          `json:"-"`
	Accept        string          `json:"-"`
}

// Question returns the content of the last message.
func (r Request) Question() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// Reply is one scripted response.
type Reply struct {
	Status      int
	ContentType string
	Chunks      []string // written and flushed one at a time
	Delay       time.Duration
	// Hold blocks the handler after the chunks until it is closed or the
	// client goes away.
	Hold <-chan struct{}
}

// Stream replies with an event stream carrying events, one chunk per frame.
func Stream(events ...model.Event) Reply {
	chunks := make([]string, 0, len(events))
	for _, ev := range events {
		chunks = append(chunks, Frame(ev))
	}
	return Reply{Status: http.StatusOK, ContentType: "text/event-stream", Chunks: chunks}
}

// RawStream replies with an event stream made of the given raw chunks.
func RawStream(chunks ...string) Reply {
	return Reply{Status: http.StatusOK, ContentType: "text/event-stream", Chunks: chunks}
}

// JSON replies with body encoded as JSON.
func JSON(status int, body any) Reply {
	b, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("chattest: marshal reply: %v", err))
	}
	return Reply{Status: status, ContentType: "application/json", Chunks: []string{string(b)}}
}

// Text replies with a plain body.
func Text(status int, contentType, body string) Reply {
	return Reply{Status: status, ContentType: contentType, Chunks: []string{body}}
}

// Frame encodes ev as one "data:" frame.
func Frame(ev model.Event) string {
	b, err := json.Marshal(ev)
	if err != nil {
		panic(fmt.Sprintf("chattest: marshal event: %v", err))
	}
	return "data: " + string(b) + "\n\n"
}

// HistoryItem is what the history endpoint stores and returns.
type HistoryItem struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId,omitempty"`
	TenantID       string          `json:"tenantId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	HistoryBoxID   string          `json:"historyBoxId,omitempty"`
	TurnID         string          `json:"turnId,omitempty"`
	Question       string          `json:"question"`
	Answer         json.RawMessage `json:"answer"`
}

// Options configures a Backend.
type Options struct {
	ChatPath    string
	HistoryPath string
	ChunkDelay  time.Duration // applied to generated replies
	Token       string        // when set, history calls must present it
	Logger      zerolog.Logger
}

// Backend is the scripted server. Queued replies are served in order; when
// the queue is empty the backend answers by echoing the question.
type Backend struct {
	opts Options

	mu       sync.Mutex
	queue    []Reply
	requests []Request
	history  map[string][]HistoryItem
}

// New creates a backend with the real service's default paths.
func New(opts Options) *Backend {
	if opts.ChatPath == "" {
		opts.ChatPath = "/api/chat/"
	}
	if opts.HistoryPath == "" {
		opts.HistoryPath = "/api/history/"
	}
	return &Backend{
		opts:    opts,
		history: make(map[string][]HistoryItem),
	}
}

// Handler returns the chi router serving the backend.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post(b.opts.ChatPath, b.handleChat)
	r.Post(b.opts.HistoryPath, b.handleSave)
	r.Get(b.opts.HistoryPath+"{id}/", b.handleHistory)
	return r
}

// Enqueue adds replies for the next chat requests.
func (b *Backend) Enqueue(replies ...Reply) {
	b.mu.Lock()
	b.queue = append(b.queue, replies...)
	b.mu.Unlock()
}

// Requests returns the chat requests received so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// History returns the items saved under a history box.
func (b *Backend) History(historyBoxID string) []HistoryItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]HistoryItem(nil), b.history[historyBoxID]...)
}

// Seed stores items under a history box as if they had been saved.
func (b *Backend) Seed(historyBoxID string, items ...HistoryItem) {
	b.mu.Lock()
	b.history[historyBoxID] = append(b.history[historyBoxID], items...)
	b.mu.Unlock()
}

func (b *Backend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Authorization = r.Header.Get("Authorization")
	req.Accept = r.Header.Get("Accept")

	b.mu.Lock()
	b.requests = append(b.requests, req)
	var reply Reply
	if len(b.queue) > 0 {
		reply = b.queue[0]
		b.queue = b.queue[1:]
	} else {
		reply = b.echo(req)
	}
	b.mu.Unlock()

	b.opts.Logger.Debug().
		Int("messages", len(req.Messages)).
		Int("status", reply.Status).
		Int("chunks", len(reply.Chunks)).
		Msg("Serving scripted reply")

	b.write(w, r, reply)
}

// echo streams the question back word by word, or as a single JSON body
// when the client did not ask for a stream.
func (b *Backend) echo(req Request) Reply {
	text := "You asked: " + req.Question()
	session := map[string]any{"turns": len(req.Messages)/2 + 1}

	if !strings.Contains(req.Accept, "text/event-stream") {
		return JSON(http.StatusOK, map[string]any{
			"message":       model.Message{Content: text, Role: model.RoleAssistant},
			"context":       map[string]any{model.ContextThoughts: []any{}},
			"session_state": session,
		})
	}

	words := strings.SplitAfter(text, " ")
	events := make([]model.Event, 0, len(words)+1)
	for _, w := range words {
		events = append(events, model.Event{Content: w})
	}
	events = append(events, model.Event{
		Context:      map[string]any{model.ContextFollowupQuestions: []any{"Tell me more"}},
		SessionState: session,
	})

	reply := Stream(events...)
	reply.Delay = b.opts.ChunkDelay
	return reply
}

func (b *Backend) write(w http.ResponseWriter, r *http.Request, reply Reply) {
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	if reply.ContentType == "text/event-stream" {
		w.Header().Set("Cache-Control", "no-cache")
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range reply.Chunks {
		if i > 0 && reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if reply.Hold != nil {
		select {
		case <-reply.Hold:
		case <-r.Context().Done():
		}
	}
}

func (b *Backend) handleSave(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	var item HistoryItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid history item"})
		return
	}
	if item.HistoryBoxID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "historyBoxId is required"})
		return
	}
	if item.ID == "" {
		item.ID = item.ConversationID
	}

	b.mu.Lock()
	b.history[item.HistoryBoxID] = append(b.history[item.HistoryBoxID], item)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"id": item.ID})
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	id := chi.URLParam(r, "id")
	items := b.History(id)
	if len(items) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (b *Backend) authorized(r *http.Request) bool {
	return b.opts.Token == "" || r.Header.Get("Authorization") == "Bearer "+b.opts.Token
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
