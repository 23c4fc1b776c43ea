// Package sse reads server-sent-event streams as (event, data) frames.
//
// The reader buffers partial lines across network reads, so frame
// boundaries falling in the middle of a TCP segment are handled
// transparently. Stream termination sentinels such as "[DONE]" are
// surfaced as ordinary data frames; interpreting them is the caller's job.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched SSE frame.
type Event struct {
	Type string // "event:" field, may be empty
	Data string // "data:" field(s), joined with "\n"
}

// Reader incrementally parses SSE frames from r.
type Reader struct {
	br *bufio.Reader
}

// maxLine caps a single SSE line at 1 MB, matching the largest deltas any
// known backend emits.
const maxLine = 1 << 20

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next complete frame. It returns io.EOF at the end of
// the stream; any other error is a transport-level read failure and the
// reader must not be used afterwards.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var data []string

	for {
		line, err := r.readLine()
		if err != nil {
			// A frame cut off mid-stream is dropped; the caller sees the
			// read error and reports whatever it already consumed.
			return Event{}, err
		}

		switch {
		case line == "":
			// Blank line dispatches the pending frame, if any.
			if len(data) > 0 || ev.Type != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive line.
		case strings.HasPrefix(line, "event:"):
			ev.Type = trimField(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = append(data, trimField(line, "data:"))
		default:
			// id:, retry:, and unknown fields are ignored.
		}
	}
}

func (r *Reader) readLine() (string, error) {
	var b strings.Builder
	for {
		frag, more, err := r.br.ReadLine()
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				// Trailing line without a newline; treat as complete.
				return b.String(), nil
			}
			return "", err
		}
		b.Write(frag)
		if b.Len() > maxLine {
			return "", io.ErrUnexpectedEOF
		}
		if !more {
			return strings.TrimSuffix(b.String(), "\r"), nil
		}
	}
}

// trimField strips the field name and the single optional leading space
// the SSE spec allows after the colon.
func trimField(line, field string) string {
	v := strings.TrimPrefix(line, field)
	return strings.TrimPrefix(v, " ")
}
