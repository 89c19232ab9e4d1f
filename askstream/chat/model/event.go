package model

// Event is the parsed payload of one data frame. A zero-valued field means
// the frame carries no update for it.
type Event struct {
	Content      string         `json:"content,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	SessionState any            `json:"session_state,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Terminal reports whether the event signals a backend failure.
func (e Event) Terminal() bool { return e.Error != "" }
