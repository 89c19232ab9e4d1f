package frame

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

const sampleStream = "data: {\"content\":\"Hel\"}\n\n" +
	": keep-alive\n\n" +
	"data: {\"content\":\"lo, 世界\",\"context\":{\"thoughts\":[\"t1\"]}}\n\n" +
	"event: ping\n\n" +
	"data: {\"session_state\":{\"id\":\"s1\"}}\n\n"

func feedAll(d *Decoder, chunks ...[]byte) []model.Event {
	var out []model.Event
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return append(out, d.Flush()...)
}

func TestDecoder_WholeStream(t *testing.T) {
	events := feedAll(NewDecoder(), []byte(sampleStream))

	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo, 世界", events[1].Content)
	assert.Equal(t, []any{"t1"}, events[1].Context["thoughts"])
	assert.Equal(t, map[string]any{"id": "s1"}, events[2].SessionState)
}

func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	want := feedAll(NewDecoder(), []byte(sampleStream))
	raw := []byte(sampleStream)

	// Every single split point, including inside multi-byte runes and JSON.
	for i := 0; i <= len(raw); i++ {
		got := feedAll(NewDecoder(), raw[:i], raw[i:])
		require.Equal(t, want, got, "split at %d", i)
	}

	rng := rand.New(rand.NewSource(1))
	for range 200 {
		var chunks [][]byte
		rest := raw
		for len(rest) > 0 {
			n := 1 + rng.Intn(16)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		require.Equal(t, want, feedAll(NewDecoder(), chunks...))
	}
}

func TestDecoder_MultipleFramesInOneChunk(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\ndata: {\"content\":\"c\"}\n\n"))

	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Content)
	assert.Equal(t, "b", events[1].Content)
	assert.Equal(t, "c", events[2].Content)
	assert.Zero(t, d.Buffered())
}

func TestDecoder_EmptyAndDelimiterOnlyChunks(t *testing.T) {
	d := NewDecoder()

	assert.Empty(t, d.Feed(nil))
	assert.Empty(t, d.Feed([]byte{}))
	assert.Empty(t, d.Feed([]byte("\n\n")))

	assert.Empty(t, d.Feed([]byte("data: {\"content\":\"x\"}")))
	assert.Empty(t, d.Feed([]byte{}))
	events := d.Feed([]byte("\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Content)
}

func TestDecoder_MalformedFrameIsDropped(t *testing.T) {
	var logs bytes.Buffer
	d := NewDecoder(WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))

	events := feedAll(d, []byte(
		"data: {\"content\":\"first\"}\n\n"+
			"data: {\"content\": \n\n"+
			"data: {\"content\":\"second\"}\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Content)
	assert.Equal(t, "second", events[1].Content)
	assert.Equal(t, 1, d.Dropped())
	assert.Contains(t, logs.String(), "Dropping malformed frame")
}

func TestDecoder_SchemaViolationIsDropped(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, []byte(
		"data: {\"content\":5}\n\n"+
			"data: [1,2]\n\n"+
			"data: {\"session_state\":true}\n\n"+
			"data: {\"content\":\"ok\",\"delta\":{\"role\":\"assistant\"}}\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Content)
	assert.Equal(t, 3, d.Dropped())
}

func TestDecoder_NonDataFramesIgnored(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, []byte(": comment\n\nid: 4\n\ndata:{\"content\":\"no space\"}\n\n"))

	assert.Empty(t, events)
	assert.Zero(t, d.Dropped())
}

func TestDecoder_FlushDeliversUnterminatedFrame(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte("data: {\"error\":\"boom\"}\n")))

	events := d.Flush()
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal())
	assert.Empty(t, d.Flush())
}

func TestDecoder_NullFieldsMeanNoUpdate(t *testing.T) {
	events := feedAll(NewDecoder(), []byte("data: {\"content\":null,\"session_state\":null,\"error\":null}\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, model.Event{}, events[0])
}

func TestEvents_ReadsIncrementally(t *testing.T) {
	r := iotest.OneByteReader(strings.NewReader(sampleStream))

	var got []model.Event
	for ev, err := range Events(context.Background(), r, NewDecoder()) {
		require.NoError(t, err)
		got = append(got, ev)
	}

	assert.Equal(t, feedAll(NewDecoder(), []byte(sampleStream)), got)
}

func TestEvents_StopsOnReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := iotest.DataErrReader(strings.NewReader("data: {\"content\":\"a\"}\n\ndata: {\"con"))

	var got []model.Event
	var lastErr error
	for ev, err := range Events(context.Background(), readerThenError{r: r, err: boom}, NewDecoder()) {
		if err != nil {
			lastErr = err
			continue
		}
		got = append(got, ev)
	}

	require.Len(t, got, 1)
	assert.ErrorIs(t, lastErr, boom)
}

func TestEvents_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lastErr error
	for _, err := range Events(ctx, strings.NewReader(sampleStream), NewDecoder()) {
		lastErr = err
	}
	assert.ErrorIs(t, lastErr, context.Canceled)
}

func TestEvents_ConsumerCanStopEarly(t *testing.T) {
	count := 0
	for range Events(context.Background(), strings.NewReader(sampleStream), NewDecoder()) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

// readerThenError replaces the reader's EOF with err.
type readerThenError struct {
	r   io.Reader
	err error
}

func (r readerThenError) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil {
		return n, r.err
	}
	return n, nil
}
