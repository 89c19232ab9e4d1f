// Package frame turns a chunked response body into protocol events.
//
// Frames are separated by a blank line. Data-bearing frames start with
// "data: " followed by one JSON object; anything else (comments,
// keep-alives, other SSE fields) is ignored. Malformed frames are dropped
// so one bad frame cannot abort an otherwise healthy stream.
package frame

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

const readBufferSize = 4096

var (
	frameDelimiter = []byte("\n\n")
	dataPrefix     = []byte("data: ")
)

// Decoder splits incoming chunks into frames, keeping the trailing partial
// frame until the next chunk arrives. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	logger  zerolog.Logger
	dropped int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used to report dropped frames.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// NewDecoder creates a decoder with an empty carry-over buffer.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the carry-over buffer and returns the events of all
// frames it completes, in order.
func (d *Decoder) Feed(chunk []byte) []model.Event {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []model.Event
	start := 0
	for {
		i := bytes.Index(d.buf[start:], frameDelimiter)
		if i < 0 {
			break
		}
		if ev, ok := d.parse(d.buf[start : start+i]); ok {
			events = append(events, ev)
		}
		start += i + len(frameDelimiter)
	}

	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	return events
}

// Flush treats whatever is left in the buffer as a final frame. It is called
// once the body is exhausted; servers that omit the last delimiter still get
// their final frame delivered.
func (d *Decoder) Flush() []model.Event {
	rest := bytes.TrimRight(d.buf, "\n")
	d.buf = d.buf[:0]
	if len(rest) == 0 {
		return nil
	}
	if ev, ok := d.parse(rest); ok {
		return []model.Event{ev}
	}
	return nil
}

// Dropped returns how many data frames were discarded as malformed.
func (d *Decoder) Dropped() int { return d.dropped }

// Buffered returns the size of the incomplete trailing frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) parse(frame []byte) (model.Event, bool) {
	if !bytes.HasPrefix(frame, dataPrefix) {
		return model.Event{}, false
	}

	payload := frame[len(dataPrefix):]
	ev, err := DecodeEvent(payload)
	if err != nil {
		d.dropped++
		d.logger.Debug().
			Err(err).
			Str("payload", preview(payload)).
			Msg("Dropping malformed frame")
		return model.Event{}, false
	}
	return ev, true
}

// Events reads r to the end and yields the decoded events lazily. A read
// failure or context cancellation is yielded once as the error value and
// ends the sequence.
func Events(ctx context.Context, r io.Reader, d *Decoder) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		buf := make([]byte, readBufferSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(model.Event{}, err)
				return
			}

			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range d.Feed(buf[:n]) {
					if !yield(ev, nil) {
						return
					}
				}
			}

			if errors.Is(err, io.EOF) {
				for _, ev := range d.Flush() {
					if !yield(ev, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield(model.Event{}, err)
				return
			}
		}
	}
}

func preview(b []byte) string {
	const limit = 120
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
