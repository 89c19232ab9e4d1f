package chat

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/merge"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// DefaultRateLimitCode is the error code the backend uses once a user has
// exhausted their usage allowance.
const DefaultRateLimitCode = "rate_limit"

const (
	DefaultRateLimitText = "Usage limit reached"
	DefaultErrorPrefix   = "An error occurred: "
)

// ErrEmptyBody is returned when a response carries no body where one is required.
var ErrEmptyBody = errors.New("response body is empty")

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status  int
	Code    string // value of the "error" field, when the body had one
	Message string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// DecodeError wraps a response body that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// readHTTPError drains at most limit bytes of a failed response and extracts
// the best available diagnostic from it.
func readHTTPError(resp *http.Response, limit int64) *HTTPError {
	herr := &HTTPError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, limit))

	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if code, ok := payload.Error.(string); ok {
			herr.Code = code
		}
		herr.Message = cmp.Or(payload.Message, payload.Detail)
	} else {
		herr.Message = strings.TrimSpace(string(body))
	}

	if herr.Message == "" && herr.Code == "" {
		herr.Message = http.StatusText(resp.StatusCode)
	}
	return herr
}

// Treatment is what the controller does with a settled failure.
type Treatment struct {
	Phase  model.Phase
	Text   string // replaces the answer content
	Notify bool   // raise a modal-style notice
}

// Classifier maps errors from any layer onto the failure taxonomy.
type Classifier struct {
	RateLimitCode string
	RateLimitText string
	ErrorPrefix   string
}

// DefaultClassifier returns a classifier with the stock texts.
func DefaultClassifier() Classifier {
	return Classifier{
		RateLimitCode: DefaultRateLimitCode,
		RateLimitText: DefaultRateLimitText,
		ErrorPrefix:   DefaultErrorPrefix,
	}
}

// Classify converts err into a Failure.
func (c Classifier) Classify(err error) model.Failure {
	var (
		httpErr  *HTTPError
		eventErr *merge.EventError
		decErr   *DecodeError
	)

	switch {
	case errors.As(err, &httpErr):
		f := model.Failure{
			Class:   model.ClassHTTP,
			Status:  httpErr.Status,
			Code:    httpErr.Code,
			Message: cmp.Or(httpErr.Message, httpErr.Code),
		}
		if c.isRateLimit(httpErr.Code) {
			f.Class = model.ClassRateLimited
		}
		return f
	case errors.As(err, &eventErr):
		if c.isRateLimit(eventErr.Message) {
			return model.Failure{Class: model.ClassRateLimited, Code: eventErr.Message, Message: eventErr.Message}
		}
		return model.Failure{Class: model.ClassServer, Message: eventErr.Message}
	case errors.Is(err, ErrEmptyBody):
		return model.Failure{Class: model.ClassEmptyBody, Message: err.Error()}
	case errors.As(err, &decErr):
		return model.Failure{Class: model.ClassMalformedBody, Message: decErr.Error()}
	default:
		return model.Failure{Class: model.ClassTransport, Message: err.Error()}
	}
}

// Treat decides the terminal phase and user-facing text for f.
func (c Classifier) Treat(f model.Failure) Treatment {
	if f.Class == model.ClassRateLimited {
		return Treatment{
			Phase:  model.PhaseRateLimited,
			Text:   cmp.Or(c.RateLimitText, DefaultRateLimitText),
			Notify: true,
		}
	}
	return Treatment{
		Phase: model.PhaseFailed,
		Text:  c.ErrorPrefix + f.Message,
	}
}

func (c Classifier) isRateLimit(code string) bool {
	return code != "" && code == cmp.Or(c.RateLimitCode, DefaultRateLimitCode)
}
