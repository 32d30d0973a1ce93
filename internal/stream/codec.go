package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Flusher is implemented by writers that buffer output, such as
// http.ResponseWriter and bufio.Writer.
type Flusher interface {
	Flush()
}

type errFlusher interface {
	Flush() error
}

// Encoder writes events as newline-delimited JSON, flushing after each one
// so that no event waits behind a future one.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes a single event as one complete line.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Type, err)
	}

	switch f := e.w.(type) {
	case Flusher:
		f.Flush()
	case errFlusher:
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush %s event: %w", ev.Type, err)
		}
	}
	return nil
}

// Drain encodes every event from events until the channel closes or a
// terminal event has been written. It returns the terminal event.
func (e *Encoder) Drain(events <-chan Event) (Event, error) {
	var last Event
	for ev := range events {
		if err := e.Encode(ev); err != nil {
			return last, err
		}
		last = ev
		if ev.Terminal() {
			return ev, nil
		}
	}
	if !last.Terminal() {
		return last, errors.New("event stream closed without a terminal event")
	}
	return last, nil
}

// MaxRecordSize bounds a single record on the wire. A peer that never sends
// a newline cannot grow the decoder's buffer past it.
const MaxRecordSize = 4 * 1024 * 1024

// ErrRecordTooLarge is returned when a record exceeds the decoder's limit.
var ErrRecordTooLarge = errors.New("event record too large")

// Decoder reads events from a newline-delimited stream. A record may arrive
// split across any number of reads; it is decoded once its newline arrives.
type Decoder struct {
	s       *bufio.Scanner
	limit   int
	partial bool
}

// NewDecoder returns a decoder reading from r with the MaxRecordSize limit.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, MaxRecordSize)
}

// NewDecoderSize returns a decoder that rejects records longer than limit bytes.
func NewDecoderSize(r io.Reader, limit int) *Decoder {
	d := &Decoder{s: bufio.NewScanner(r), limit: limit}
	d.s.Buffer(make([]byte, 0, min(64*1024, limit)), limit)
	d.s.Split(d.splitRecords)
	return d
}

// splitRecords yields newline-terminated records, then whatever unterminated
// tail remains at end of stream, marking it partial.
func (d *Decoder) splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		d.partial = true
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next returns the next event. It returns io.EOF at a clean end of stream,
// io.ErrUnexpectedEOF when the stream ends inside a record that is not valid
// JSON on its own, and ErrRecordTooLarge when a record exceeds the limit.
func (d *Decoder) Next() (Event, error) {
	for d.s.Scan() {
		line := bytes.TrimSpace(d.s.Bytes())
		if len(line) == 0 {
			continue
		}
		if d.partial && !json.Valid(line) {
			return Event{}, io.ErrUnexpectedEOF
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, fmt.Errorf("invalid event record: %w", err)
		}
		return ev, nil
	}
	if err := d.s.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, fmt.Errorf("%w: limit is %d bytes", ErrRecordTooLarge, d.limit)
		}
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ContentType is the media type of the stream on HTTP.
const ContentType = "application/x-ndjson"

// PrepareResponse sets the streaming headers on an HTTP response and disables
// the server write deadline, which would otherwise cut long runs short.
func PrepareResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
