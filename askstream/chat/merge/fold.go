// Package merge folds protocol events into an answer in arrival order.
package merge

import (
	"maps"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// EventError is returned by Fold when the stream reports a backend failure.
type EventError struct {
	Message string
}

func (e *EventError) Error() string {
	return "stream error: " + e.Message
}

// Fold applies one event to prior and returns the new answer. prior is left
// untouched. A terminal event yields prior unchanged together with an
// *EventError; callers must stop folding for the turn.
func Fold(prior model.Answer, ev model.Event) (model.Answer, error) {
	if ev.Terminal() {
		return prior, &EventError{Message: ev.Error}
	}

	next := prior
	next.Message.Content = prior.Message.Content + ev.Content

	if ev.Context != nil {
		next.Context = make(map[string]any, len(prior.Context)+len(ev.Context))
		maps.Copy(next.Context, prior.Context)
		maps.Copy(next.Context, ev.Context)
	}

	next.SessionState = MergeSessionState(prior.SessionState, ev.SessionState)
	return next, nil
}

// FoldAll folds events in order, stopping at the first terminal event.
func FoldAll(prior model.Answer, events []model.Event) (model.Answer, error) {
	cur := prior
	for _, ev := range events {
		var err error
		if cur, err = Fold(cur, ev); err != nil {
			return cur, err
		}
	}
	return cur, nil
}

// MergeSessionState combines a session state update with the prior value.
// Objects merge key by key over the prior object (nil or non-object priors
// count as empty); a string or other scalar replaces the prior wholesale.
// A nil or empty-string update leaves prior as it was.
func MergeSessionState(prior, update any) any {
	switch u := update.(type) {
	case nil:
		return prior
	case string:
		if u == "" {
			return prior
		}
		return u
	case map[string]any:
		out := make(map[string]any, len(u))
		if p, ok := prior.(map[string]any); ok {
			maps.Copy(out, p)
		}
		maps.Copy(out, u)
		return out
	default:
		return u
	}
}
