package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZanzyTHEbar/askstream/askstream/chat"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

var (
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	failureStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	advisoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	hintStyle     = lipgloss.NewStyle().Faint(true)
)

// printer writes answers to out as the store changes. Streaming content is
// written incrementally; failures replace whatever was shown.
type printer struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]int // bytes of content already written per turn
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: make(map[string]int)}
}

// attach subscribes the printer to store.
func (p *printer) attach(store *chat.Store) (stop func()) {
	return store.Watch(p.onChange)
}

func (p *printer) onChange(c chat.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c.Kind {
	case chat.ChangeReset:
		clear(p.printed)
		return
	case chat.ChangeAppended:
		p.printed[c.Turn.ID] = 0
		return
	}

	t := c.Turn
	content := t.Answer.Message.Content
	done := p.printed[t.ID]

	switch t.Phase {
	case model.PhaseSending, model.PhaseStreaming:
		if len(content) < done {
			// A retry started over.
			done = 0
		}
		if len(content) > done {
			fmt.Fprint(p.out, content[done:])
		}
		p.printed[t.ID] = len(content)

	case model.PhaseSucceeded:
		if len(content) > done {
			fmt.Fprint(p.out, content[done:])
		}
		fmt.Fprintln(p.out)
		p.followups(t.Answer)
		delete(p.printed, t.ID)

	case model.PhaseFailed, model.PhaseRateLimited:
		if done > 0 {
			fmt.Fprintln(p.out)
		}
		style := failureStyle
		if t.Phase == model.PhaseRateLimited {
			style = advisoryStyle
		}
		fmt.Fprintln(p.out, style.Render(content))
		if t.Retryable() {
			fmt.Fprintln(p.out, hintStyle.Render("(/retry to try again)"))
		}
		delete(p.printed, t.ID)
	}
}

func (p *printer) followups(a model.Answer) {
	items, _ := a.Context[model.ContextFollowupQuestions].([]any)
	for _, item := range items {
		if q, ok := item.(string); ok && q != "" {
			fmt.Fprintln(p.out, hintStyle.Render("  → "+q))
		}
	}
}

// printTurns writes a whole conversation, as loaded from history.
func printTurns(out io.Writer, turns []model.Turn) {
	for _, t := range turns {
		fmt.Fprintln(out, promptStyle.Render("> "+t.Question))
		switch t.Phase {
		case model.PhaseSucceeded:
			fmt.Fprintln(out, t.Answer.Message.Content)
		case model.PhaseRateLimited:
			fmt.Fprintln(out, advisoryStyle.Render(t.Answer.Message.Content))
		default:
			fmt.Fprintln(out, failureStyle.Render(t.Answer.Message.Content))
		}
		fmt.Fprintln(out)
	}
}
