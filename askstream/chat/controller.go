package chat

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/frame"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/merge"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrClosed        = errors.New("controller is closed")
	ErrNotRetryable  = errors.New("turn is not retryable")
	ErrTurnDiscarded = errors.New("turn was discarded before it settled")
	ErrBusy          = errors.New("a turn is in flight")
	ErrNoHistory     = errors.New("no history source configured")

	errStaleAttempt = errors.New("stale attempt")
	errSuperseded   = errors.New("superseded by a newer request")
)

const (
	defaultMaxErrorBody = 64 << 10
	defaultMaxBody      = 8 << 20

	unknownUser = "unknown-user"
)

// Controller drives question/answer turns against the chat endpoint and
// keeps the conversation store consistent while they run.
//
// Only one turn is in flight at a time: submitting or retrying cancels the
// running attempt and settles it as a transport failure first.
type Controller struct {
	endpoint     string
	client       *http.Client
	tokens       ports.TokenProvider
	headers      HeaderBuilder
	classifier   Classifier
	identity     ports.Identity
	bridge       *Bridge
	history      ports.HistorySource
	sessions     ports.SessionRecorder
	notifier     ports.Notifier
	tracer       ports.Tracer
	logger       zerolog.Logger
	store        *Store
	stream       bool
	maxErrorBody int64
	maxBody      int64

	// opMu serializes Submit, Retry, Clear, Hydrate and Close.
	opMu sync.Mutex

	mu             sync.Mutex
	overrides      Overrides
	conversationID string
	inflight       *inflight
	closed         bool
}

type inflight struct {
	turnID  string
	attempt int
	cancel  context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) { c.client = client }
}

func WithTokenProvider(tokens ports.TokenProvider) Option {
	return func(c *Controller) { c.tokens = tokens }
}

func WithHeaderBuilder(headers HeaderBuilder) Option {
	return func(c *Controller) { c.headers = headers }
}

func WithClassifier(classifier Classifier) Option {
	return func(c *Controller) { c.classifier = classifier }
}

func WithIdentity(identity ports.Identity) Option {
	return func(c *Controller) { c.identity = identity }
}

// WithBridge enables persistence of succeeded turns.
func WithBridge(bridge *Bridge) Option {
	return func(c *Controller) { c.bridge = bridge }
}

func WithHistorySource(history ports.HistorySource) Option {
	return func(c *Controller) { c.history = history }
}

func WithSessionRecorder(sessions ports.SessionRecorder) Option {
	return func(c *Controller) { c.sessions = sessions }
}

func WithNotifier(notifier ports.Notifier) Option {
	return func(c *Controller) { c.notifier = notifier }
}

func WithTracer(tracer ports.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithStore(store *Store) Option {
	return func(c *Controller) { c.store = store }
}

func WithOverrides(overrides Overrides) Option {
	return func(c *Controller) { c.overrides = overrides }
}

// WithStreaming sets whether the controller asks for an event stream. The
// response content type still decides how the body is read.
func WithStreaming(stream bool) Option {
	return func(c *Controller) { c.stream = stream }
}

func WithConversationID(id string) Option {
	return func(c *Controller) { c.conversationID = id }
}

// WithBodyLimits caps how much of a JSON body or an error body is read.
func WithBodyLimits(maxBody, maxErrorBody int64) Option {
	return func(c *Controller) {
		if maxBody > 0 {
			c.maxBody = maxBody
		}
		if maxErrorBody > 0 {
			c.maxErrorBody = maxErrorBody
		}
	}
}

// NewController creates a controller posting to endpoint.
func NewController(endpoint string, opts ...Option) (*Controller, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid chat endpoint %q", endpoint)
	}

	c := &Controller{
		endpoint:     endpoint,
		client:       http.DefaultClient,
		tokens:       anonymous{},
		headers:      BearerHeaders(nil),
		classifier:   DefaultClassifier(),
		notifier:     &noOpNotifier{},
		tracer:       &noOpTracer{},
		logger:       zerolog.Nop(),
		stream:       true,
		maxErrorBody: defaultMaxErrorBody,
		maxBody:      defaultMaxBody,
		overrides:    DefaultOverrides(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store, _ = NewStore()
	}
	if c.conversationID == "" {
		c.conversationID = uuid.NewString()
	}
	c.logger = c.logger.With().Str("component", "chat").Logger()
	return c, nil
}

// Store returns the conversation store the controller mutates.
func (c *Controller) Store() *Store { return c.store }

// ConversationID identifies the current conversation in persisted records.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Overrides returns the parameters sent with the next request.
func (c *Controller) Overrides() Overrides {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overrides
}

// SetOverrides replaces the parameters used by subsequent requests.
func (c *Controller) SetOverrides(o Overrides) {
	c.mu.Lock()
	c.overrides = o
	c.mu.Unlock()
}

// Submit appends a new turn for question and runs it to settlement. The
// returned error is non-nil only for caller mistakes; backend and transport
// failures are reported through the turn's phase and failure.
func (c *Controller) Submit(ctx context.Context, question string) (model.Turn, error) {
	question = normalize(question)
	if question == "" {
		return model.Turn{}, ErrEmptyQuestion
	}

	turn := model.Turn{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    model.NewAnswer(),
		Phase:     model.PhaseSending,
		Attempt:   1,
		CreatedAt: time.Now(),
	}

	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return model.Turn{}, ErrClosed
	}
	c.supersede(ctx)
	if err := c.store.Append(turn); err != nil {
		c.opMu.Unlock()
		return model.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	runCtx, cancel := c.begin(ctx, turn)
	c.opMu.Unlock()

	return c.run(runCtx, cancel, turn)
}

// Retry re-submits the question of a failed turn under the same id. The
// previous answer is discarded.
func (c *Controller) Retry(ctx context.Context, turnID string) (model.Turn, error) {
	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return model.Turn{}, ErrClosed
	}

	cur, ok := c.store.Get(turnID)
	if !ok {
		c.opMu.Unlock()
		return model.Turn{}, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if !cur.Retryable() {
		c.opMu.Unlock()
		return cur, ErrNotRetryable
	}

	c.supersede(ctx)
	turn, err := c.store.Update(turnID, func(t model.Turn) (model.Turn, error) {
		if !t.Retryable() {
			return t, ErrNotRetryable
		}
		t.Answer = model.NewAnswer()
		t.Phase = model.PhaseSending
		t.Failure = nil
		t.Attempt++
		t.SettledAt = time.Time{}
		return t, nil
	})
	if err != nil {
		c.opMu.Unlock()
		return turn, err
	}
	runCtx, cancel := c.begin(ctx, turn)
	c.opMu.Unlock()

	return c.run(runCtx, cancel, turn)
}

// Clear abandons any running turn, empties the conversation and starts a new
// conversation id.
func (c *Controller) Clear() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// Drop the turn before cancelling so the attempt finds it gone rather
	// than settling it first.
	prev := c.detach()
	err := c.store.Reset(nil)
	if prev != nil {
		prev.cancel()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conversationID = uuid.NewString()
	c.mu.Unlock()
	return nil
}

// Hydrate replaces the conversation with the records stored under
// conversationID and continues that conversation.
func (c *Controller) Hydrate(ctx context.Context, conversationID string) error {
	if c.history == nil {
		return ErrNoHistory
	}

	records, err := c.history.LoadHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history %s: %w", conversationID, err)
	}
	turns := turnsFromRecords(records)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if _, pending := c.store.Pending(); pending {
		return ErrBusy
	}
	if err := c.store.Reset(turns); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	c.mu.Lock()
	c.conversationID = conversationID
	c.mu.Unlock()

	c.logger.Info().
		Str("conversation_id", conversationID).
		Int("turns", len(turns)).
		Msg("Conversation hydrated")
	return nil
}

// Close cancels the running turn and waits for pending saves.
func (c *Controller) Close() error {
	c.opMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.opMu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.abandon()
	c.opMu.Unlock()

	if c.bridge != nil {
		c.bridge.Close()
	}
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// begin registers turn as the in-flight attempt.
func (c *Controller) begin(ctx context.Context, turn model.Turn) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.inflight = &inflight{turnID: turn.ID, attempt: turn.Attempt, cancel: cancel}
	c.mu.Unlock()
	return runCtx, cancel
}

// detach forgets the in-flight attempt without cancelling it.
func (c *Controller) detach() *inflight {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.inflight
	c.inflight = nil
	return cur
}

// abandon cancels the in-flight attempt without settling it.
func (c *Controller) abandon() {
	if cur := c.detach(); cur != nil {
		cur.cancel()
	}
}

// supersede settles the in-flight attempt as failed, then cancels it, so the
// store never holds two pending turns.
func (c *Controller) supersede(ctx context.Context) {
	prev := c.detach()
	if prev == nil {
		return
	}
	defer prev.cancel()

	if _, err := c.fail(context.WithoutCancel(ctx), prev.turnID, prev.attempt, errSuperseded); err != nil &&
		!errors.Is(err, errStaleAttempt) && !errors.Is(err, ErrTurnNotFound) {
		c.logger.Warn().Err(err).Str("turn_id", prev.turnID).Msg("Failed to settle superseded turn")
	}
}

func (c *Controller) release(turnID string, attempt int) {
	c.mu.Lock()
	if c.inflight != nil && c.inflight.turnID == turnID && c.inflight.attempt == attempt {
		c.inflight = nil
	}
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, turn model.Turn) (model.Turn, error) {
	defer cancel()
	defer c.release(turn.ID, turn.Attempt)

	ctx, finish := c.tracer.StartSpan(ctx, "chat.turn", map[string]any{
		"turn_id":         turn.ID,
		"attempt":         turn.Attempt,
		"conversation_id": c.ConversationID(),
	})

	var (
		settled model.Turn
		err     error
	)
	exchangeErr := c.exchange(ctx, turn)
	if exchangeErr != nil {
		settled, err = c.fail(ctx, turn.ID, turn.Attempt, exchangeErr)
	} else {
		settled, err = c.succeed(ctx, turn.ID, turn.Attempt)
	}
	finish(exchangeErr)

	switch {
	case err == nil:
		return settled, nil
	case errors.Is(err, errStaleAttempt):
		// Someone else settled or retried the turn; report what the store holds.
		if cur, ok := c.store.Get(turn.ID); ok {
			return cur, nil
		}
		return settled, ErrTurnDiscarded
	case errors.Is(err, ErrTurnNotFound):
		return settled, ErrTurnDiscarded
	default:
		return settled, err
	}
}

// exchange performs the request and folds the response into the turn. A
// non-nil error means the turn must settle as a failure.
func (c *Controller) exchange(ctx context.Context, turn model.Turn) error {
	payload, err := json.Marshal(BuildRequest(c.store.Before(turn.ID), turn.Question, c.Overrides()))
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.stream {
		req.Header.Set("Accept", "text/event-stream, application/json")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	c.headers(req.Header, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp, c.maxErrorBody)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return c.consumeStream(ctx, turn, resp.Body)
	}
	return c.consumeBody(ctx, turn, resp.Body)
}

func (c *Controller) consumeStream(ctx context.Context, turn model.Turn, body io.Reader) error {
	if _, err := c.store.Update(turn.ID, guard(turn.Attempt, func(t model.Turn) (model.Turn, error) {
		t.Phase = model.PhaseStreaming
		return t, nil
	})); err != nil {
		return err
	}

	counted := &countingReader{r: body}
	dec := frame.NewDecoder(frame.WithLogger(c.logger))
	frames := 0
	for ev, err := range frame.Events(ctx, counted, dec) {
		if err != nil {
			return err
		}
		frames++
		if _, err := c.store.Update(turn.ID, guard(turn.Attempt, func(t model.Turn) (model.Turn, error) {
			next, err := merge.Fold(t.Answer, ev)
			if err != nil {
				return t, err
			}
			t.Answer = next
			return t, nil
		})); err != nil {
			return err
		}
	}

	if counted.n == 0 {
		return ErrEmptyBody
	}
	if dropped := dec.Dropped(); dropped > 0 {
		c.logger.Warn().
			Str("turn_id", turn.ID).
			Int("dropped", dropped).
			Int("frames", frames).
			Msg("Stream contained malformed frames")
	}
	return nil
}

func (c *Controller) consumeBody(ctx context.Context, turn model.Turn, body io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(body, c.maxBody))
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ErrEmptyBody
	}

	var payload struct {
		model.Answer
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &DecodeError{Err: err}
	}
	if payload.Error != "" {
		return &merge.EventError{Message: payload.Error}
	}

	answer := payload.Answer
	answer.Message.Role = cmp.Or(answer.Message.Role, model.RoleAssistant)
	if answer.Context == nil {
		answer.Context = map[string]any{}
	}

	if _, err := c.store.Update(turn.ID, guard(turn.Attempt, func(t model.Turn) (model.Turn, error) {
		t.Answer = answer
		return t, nil
	})); err != nil {
		return err
	}

	if token, ok := answer.SessionToken(); ok && c.sessions != nil {
		if err := c.sessions.RecordSession(ctx, c.ConversationID(), token, c.store.Turns()); err != nil {
			c.logger.Warn().Err(err).Str("session_id", token).Msg("Failed to record session")
		}
	}
	return nil
}

func (c *Controller) succeed(ctx context.Context, turnID string, attempt int) (model.Turn, error) {
	settled, err := c.store.Update(turnID, guard(attempt, func(t model.Turn) (model.Turn, error) {
		t.Phase = model.PhaseSucceeded
		t.Failure = nil
		t.SettledAt = time.Now()
		return t, nil
	}))
	if err != nil {
		return settled, err
	}

	c.tracer.Event(ctx, "turn_settled", map[string]any{
		"turn_id": turnID,
		"phase":   settled.Phase.String(),
		"length":  len(settled.Answer.Message.Content),
	})
	c.persist(settled)
	return settled, nil
}

func (c *Controller) fail(ctx context.Context, turnID string, attempt int, cause error) (model.Turn, error) {
	failure := c.classifier.Classify(cause)
	treatment := c.classifier.Treat(failure)

	settled, err := c.store.Update(turnID, guard(attempt, func(t model.Turn) (model.Turn, error) {
		t.Answer.Message.Content = treatment.Text
		t.Phase = treatment.Phase
		t.Failure = &failure
		t.SettledAt = time.Now()
		return t, nil
	}))
	if err != nil {
		return settled, err
	}

	c.logger.Warn().
		Err(cause).
		Str("turn_id", turnID).
		Str("class", failure.Class.String()).
		Int("status", failure.Status).
		Str("code", failure.Code).
		Msg("Turn failed")
	c.tracer.Event(ctx, "turn_settled", map[string]any{
		"turn_id": turnID,
		"phase":   settled.Phase.String(),
		"class":   failure.Class.String(),
	})

	if treatment.Notify {
		c.notifier.RateLimited(ctx, settled)
	}
	return settled, nil
}

func (c *Controller) persist(t model.Turn) {
	if c.bridge == nil {
		return
	}
	c.bridge.Save(ports.Record{
		ID:             uuid.NewString(),
		ConversationID: c.ConversationID(),
		TurnID:         t.ID,
		UserID:         cmp.Or(c.identity.UserID, unknownUser),
		TenantID:       c.identity.TenantID,
		Question:       t.Question,
		Answer:         t.Answer,
		CreatedAt:      t.SettledAt,
	})
}

// guard rejects updates from an attempt that no longer owns the turn.
func guard(attempt int, fn func(model.Turn) (model.Turn, error)) func(model.Turn) (model.Turn, error) {
	return func(t model.Turn) (model.Turn, error) {
		if t.Attempt != attempt || !t.Phase.Pending() {
			return t, errStaleAttempt
		}
		return fn(t)
	}
}

func turnsFromRecords(records []ports.Record) []model.Turn {
	turns := make([]model.Turn, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, r := range records {
		answer := r.Answer
		answer.Message.Role = cmp.Or(answer.Message.Role, model.RoleAssistant)
		if answer.Context == nil {
			answer.Context = map[string]any{}
		}

		t := model.Turn{
			ID:        cmp.Or(r.TurnID, r.ID, uuid.NewString()),
			Question:  r.Question,
			Answer:    answer,
			Phase:     model.PhaseSucceeded,
			Attempt:   1,
			CreatedAt: r.CreatedAt,
			SettledAt: r.CreatedAt,
		}

		// A retried turn may have been saved more than once; keep the latest.
		if i, dup := seen[t.ID]; dup {
			turns[i] = t
			continue
		}
		seen[t.ID] = len(turns)
		turns = append(turns, t)
	}
	return turns
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type anonymous struct{}

func (anonymous) Token(context.Context) (string, error) { return "", nil }
