// ABOUTME: Stream event types and SSE framing for the chat event feed.
// ABOUTME: Encoding is a pure transform; decoding reassembles frames split across reads.

package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Event types carried on the chat event feed.
const (
	TypeConnected = "connected"
	TypeChunk     = "chunk"
	TypeComplete  = "complete"
	TypeError     = "error"
)

// ErrMalformedFrame indicates a frame that could not be decoded.
// The decoder reports it and continues with the next frame.
var ErrMalformedFrame = errors.New("malformed event frame")

// Event is one message on the live event feed. Type selects which of the
// remaining fields are populated:
//
//	connected: SessionID
//	chunk:     Content, Timestamp
//	complete:  Content, SessionID, Timestamp
//	error:     Error
//
// A chunk carries the full answer so far, not a delta. Consumers must replace,
// not append.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Connected builds the stream-opening event for a session.
func Connected(sessionID string) Event {
	return Event{Type: TypeConnected, SessionID: sessionID}
}

// Chunk builds a snapshot event carrying the cumulative answer so far.
func Chunk(content string, at time.Time) Event {
	return Event{Type: TypeChunk, Content: content, Timestamp: at.UTC().Format(time.RFC3339)}
}

// Complete builds the terminal success event.
func Complete(content, sessionID string, at time.Time) Event {
	return Event{
		Type:      TypeComplete,
		Content:   content,
		SessionID: sessionID,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Failure builds the terminal error event.
func Failure(message string) Event {
	return Event{Type: TypeError, Error: message}
}

// Encode serializes the event as a single SSE frame: "data: <json>\n\n".
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Decoder reads SSE frames from a stream and yields events. It buffers input
// so a frame boundary falling mid-frame across two reads is handled correctly.
type Decoder struct {
	scanner *bufio.Scanner
	data    []string
}

// maxFrameSize bounds a single data line. Chunks carry the full answer so
// far, so frames grow well past bufio.Scanner's default 64KB line limit.
const maxFrameSize = 10 << 20

// NewDecoder wraps the reader in a buffered frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next event on the stream. A malformed frame returns an
// error wrapping ErrMalformedFrame; the caller may log it and call Next again.
// io.EOF is returned when the stream ends cleanly.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()

		// Blank line terminates a frame
		if line == "" {
			if len(d.data) == 0 {
				continue
			}
			payload := strings.Join(d.data, "\n")
			d.data = nil

			var e Event
			if err := json.Unmarshal([]byte(payload), &e); err != nil {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
			if e.Type == "" {
				return Event{}, fmt.Errorf("%w: missing type discriminator", ErrMalformedFrame)
			}
			return e, nil
		}

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			d.data = append(d.data, strings.TrimPrefix(rest, " "))
			continue
		}
		// Comment lines and unknown fields are ignored per SSE semantics
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
