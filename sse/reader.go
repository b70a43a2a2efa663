package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxEventSize bounds a single line and the data of a single event.
const DefaultMaxEventSize = 4 << 20

// ErrEventTooLarge is returned when a line or an event's data exceeds the
// reader's limit. The stream cannot be resynchronized afterwards.
var ErrEventTooLarge = errors.New("SSE event too large")

// Reader splits an event stream into Events.
type Reader struct {
	br     *bufio.Reader
	max    int
	lastID string
}

// NewReader wraps r with DefaultMaxEventSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxEventSize)
}

// NewReaderSize wraps r, failing with ErrEventTooLarge once a line or an
// event's data grows past max bytes. A non-positive max means
// DefaultMaxEventSize.
func NewReaderSize(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxEventSize
	}
	return &Reader{br: bufio.NewReader(r), max: max}
}

// readLine returns the next line including its terminator, or the partial
// tail of the stream along with io.EOF.
func (r *Reader) readLine() (string, error) {
	var buf []byte
	for {
		frag, err := r.br.ReadSlice('\n')
		if len(buf)+len(frag) > r.max+2 {
			return "", ErrEventTooLarge
		}
		buf = append(buf, frag...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(buf), err
	}
}

// LastEventID returns the most recent id field seen on the stream.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next returns the next dispatched event. Frames without data are skipped,
// comment lines are ignored. At end of stream it returns io.EOF; a partial
// frame cut off by the end of stream is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	for {
		line, err := r.readLine()
		if errors.Is(err, ErrEventTooLarge) {
			return Event{}, err
		}
		if err != nil {
			if err == io.EOF && line == "" {
				return Event{}, io.EOF
			}
			if err != io.EOF {
				return Event{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = data.String()
			ev.ID = r.lastID
			if ev.Type == "" {
				ev.Type = DefaultEventType
			}
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			if data.Len() > r.max {
				return Event{}, ErrEventTooLarge
			}
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			ev.Retry = value
		}

		if err == io.EOF {
			return Event{}, io.EOF
		}
	}
}
