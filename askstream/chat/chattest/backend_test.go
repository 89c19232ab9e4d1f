package chattest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

func post(t *testing.T, url, accept, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEchoStream(t *testing.T) {
	b := New(Options{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/chat/", "text/event-stream", `{"messages":[{"content":"hi","role":"user"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var content strings.Builder
	frames := strings.Split(strings.TrimSuffix(string(body), "\n\n"), "\n\n")
	for _, f := range frames {
		var ev model.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(f, "data: ")), &ev))
		content.WriteString(ev.Content)
	}
	assert.Equal(t, "You asked: hi", content.String())

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hi", reqs[0].Question())
}

func TestEchoJSON(t *testing.T) {
	b := New(Options{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/chat/", "application/json", `{"messages":[{"content":"hi","role":"user"}]}`)

	var answer model.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	assert.Equal(t, "You asked: hi", answer.Message.Content)
	assert.Equal(t, map[string]any{"turns": float64(1)}, answer.SessionState)
}

func TestQueuedRepliesServeInOrder(t *testing.T) {
	b := New(Options{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	b.Enqueue(
		JSON(http.StatusTooManyRequests, map[string]string{"error": "rate_limit"}),
		Text(http.StatusOK, "text/plain", "raw"),
	)

	first := post(t, srv.URL+"/api/chat/", "", `{"messages":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, first.StatusCode)

	second := post(t, srv.URL+"/api/chat/", "", `{"messages":[]}`)
	body, _ := io.ReadAll(second.Body)
	assert.Equal(t, "raw", string(body))

	bad := post(t, srv.URL+"/api/chat/", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	b := New(Options{Token: "tok"})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	item := HistoryItem{ConversationID: "save-1", HistoryBoxID: "box", Question: "q", Answer: json.RawMessage(`"a"`)}
	raw, err := json.Marshal(item)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/history/", bytes.NewReader(raw))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/history/", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/history/box/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var items []HistoryItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "save-1", items[0].ID)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
