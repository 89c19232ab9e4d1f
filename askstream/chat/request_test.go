package chat

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

func TestBuildRequestUsesSucceededTurnsOnly(t *testing.T) {
	first := settledTurn("a", "What is Go?", "A language.")
	first.Answer.SessionState = map[string]any{"thread": "t-1"}

	failed := model.Turn{
		ID:       "b",
		Question: "And Rust?",
		Answer:   model.TextAnswer(DefaultErrorPrefix + "boom"),
		Phase:    model.PhaseFailed,
	}
	last := settledTurn("c", "Thanks\r\n", "You're welcome.")
	last.Answer.SessionState = "session-7"

	req := BuildRequest([]model.Turn{first, failed, last}, "  one more\r\nthing  ", DefaultOverrides())

	assert.Equal(t, []model.Message{
		{Content: "What is Go?", Role: model.RoleUser},
		{Content: "A language.", Role: model.RoleAssistant},
		{Content: "Thanks", Role: model.RoleUser},
		{Content: "You're welcome.", Role: model.RoleAssistant},
		{Content: "one more\nthing", Role: model.RoleUser},
	}, req.Messages)
	assert.Equal(t, "session-7", req.SessionState)
}

func TestBuildRequestFirstTurn(t *testing.T) {
	req := BuildRequest(nil, "hello", DefaultOverrides())

	require.Len(t, req.Messages, 1)
	assert.Nil(t, req.SessionState)

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))

	assert.Contains(t, wire, "session_state")
	assert.Nil(t, wire["session_state"])

	overrides := wire["context"].(map[string]any)["overrides"].(map[string]any)
	assert.Equal(t, float64(3), overrides["top"])
	assert.Equal(t, float64(10), overrides["max_subqueries"])
	assert.Equal(t, "interleaved", overrides["results_merge_strategy"])
	assert.Equal(t, 0.3, overrides["temperature"])
	assert.Equal(t, "vectors", overrides["retrieval_mode"])
	assert.Equal(t, true, overrides["semantic_ranker"])
	assert.Equal(t, "textAndImageEmbeddings", overrides["vector_fields"])
	assert.Equal(t, "textAndImages", overrides["gpt4v_input"])
	assert.Equal(t, "ja", overrides["language"])
	assert.NotContains(t, overrides, "seed")
	assert.NotContains(t, overrides, "prompt_template")
}

func TestBuildRequestSeed(t *testing.T) {
	seed := 42
	o := DefaultOverrides()
	o.Seed = &seed

	raw, err := json.Marshal(BuildRequest(nil, "q", o))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"seed":42`)
}

func TestBearerHeaders(t *testing.T) {
	build := BearerHeaders(map[string]string{"X-Client": "cli"})

	h := http.Header{}
	build(h, "")
	assert.Equal(t, "cli", h.Get("X-Client"))
	assert.Empty(t, h.Get("Authorization"))

	h = http.Header{}
	build(h, "tok")
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
}
