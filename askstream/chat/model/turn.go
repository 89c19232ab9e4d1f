package model

import "time"

// Phase is the lifecycle position of a turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseSucceeded
	PhaseFailed
	PhaseRateLimited
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Pending reports whether a request for the turn is in flight.
func (p Phase) Pending() bool { return p == PhaseSending || p == PhaseStreaming }

// Settled reports whether the turn reached a terminal state.
func (p Phase) Settled() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseRateLimited
}

// Class buckets failures into the taxonomy the controller reacts to.
type Class int

const (
	ClassNone Class = iota
	ClassTransport
	ClassHTTP
	ClassRateLimited
	ClassEmptyBody
	ClassMalformedBody
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransport:
		return "transport"
	case ClassHTTP:
		return "http"
	case ClassRateLimited:
		return "rate_limited"
	case ClassEmptyBody:
		return "empty_body"
	case ClassMalformedBody:
		return "malformed_body"
	case ClassServer:
		return "server"
	default:
		return "unknown"
	}
}

// Failure describes why a turn did not succeed.
type Failure struct {
	Class   Class
	Status  int    // HTTP status, 0 when no response was received
	Code    string // machine-readable code from the error body
	Message string
}

// Turn is one question and its evolving answer.
type Turn struct {
	ID        string
	Question  string
	Answer    Answer
	Phase     Phase
	Failure   *Failure
	Attempt   int
	CreatedAt time.Time
	SettledAt time.Time
}

// IsFinal reports whether the answer is settled.
func (t Turn) IsFinal() bool { return t.Phase.Settled() }

// Retryable reports whether the turn may be re-submitted under the same id.
// Rate-limited turns are not retryable.
func (t Turn) Retryable() bool { return t.Phase == PhaseFailed }
