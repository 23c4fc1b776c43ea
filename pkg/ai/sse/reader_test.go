package sse_test

import (
	"io"
	"strings"
	"testing"

	"github.com/parley-dev/parley/pkg/ai/sse"
)

func events(t *testing.T, r io.Reader) []sse.Event {
	t.Helper()
	rd := sse.NewReader(r)
	var out []sse.Event
	for {
		ev, err := rd.Next()
		if err != nil {
			if err != io.EOF {
				t.Fatalf("Next: %v", err)
			}
			return out
		}
		out = append(out, ev)
	}
}

func TestReader_SingleEvent(t *testing.T) {
	evs := events(t, strings.NewReader("data: hello\n\n"))
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Data != "hello" {
		t.Errorf("data = %q, want %q", evs[0].Data, "hello")
	}
}

func TestReader_EventWithType(t *testing.T) {
	evs := events(t, strings.NewReader("event: ping\ndata: pong\n\n"))
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Type != "ping" || evs[0].Data != "pong" {
		t.Errorf("event = %+v, want ping/pong", evs[0])
	}
}

func TestReader_MultipleEvents(t *testing.T) {
	evs := events(t, strings.NewReader("data: one\n\ndata: two\n\ndata: three\n\n"))
	want := []string{"one", "two", "three"}
	if len(evs) != len(want) {
		t.Fatalf("want %d events, got %d", len(want), len(evs))
	}
	for i, w := range want {
		if evs[i].Data != w {
			t.Errorf("event[%d].Data = %q, want %q", i, evs[i].Data, w)
		}
	}
}

func TestReader_SkipsCommentsAndUnknownFields(t *testing.T) {
	evs := events(t, strings.NewReader(": keep-alive\nid: 7\nretry: 100\ndata: real\n\n"))
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Data != "real" {
		t.Errorf("data = %q", evs[0].Data)
	}
}

func TestReader_MultilineData(t *testing.T) {
	evs := events(t, strings.NewReader("data: line1\ndata: line2\n\n"))
	if len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
	if evs[0].Data != "line1\nline2" {
		t.Errorf("data = %q, want %q", evs[0].Data, "line1\nline2")
	}
}

func TestReader_CRLFLines(t *testing.T) {
	evs := events(t, strings.NewReader("data: a\r\n\r\ndata: b\r\n\r\n"))
	if len(evs) != 2 {
		t.Fatalf("want 2 events, got %d", len(evs))
	}
	if evs[0].Data != "a" || evs[1].Data != "b" {
		t.Errorf("events = %+v", evs)
	}
}

func TestReader_DoneSentinelIsPlainData(t *testing.T) {
	evs := events(t, strings.NewReader("data: [DONE]\n\n"))
	if len(evs) != 1 || evs[0].Data != "[DONE]" {
		t.Fatalf("events = %+v, want single [DONE]", evs)
	}
}

func TestReader_EmptyStream(t *testing.T) {
	if evs := events(t, strings.NewReader("")); len(evs) != 0 {
		t.Errorf("want 0 events on empty stream, got %d", len(evs))
	}
}

// dribbleReader returns one byte per Read call, forcing every frame
// boundary to fall mid-read.
type dribbleReader struct{ s string }

func (d *dribbleReader) Read(p []byte) (int, error) {
	if len(d.s) == 0 {
		return 0, io.EOF
	}
	p[0] = d.s[0]
	d.s = d.s[1:]
	return 1, nil
}

func TestReader_PartialReadsAcrossFrameBoundaries(t *testing.T) {
	evs := events(t, &dribbleReader{s: "event: delta\ndata: {\"x\":1}\n\ndata: [DONE]\n\n"})
	if len(evs) != 2 {
		t.Fatalf("want 2 events, got %d", len(evs))
	}
	if evs[0].Type != "delta" || evs[0].Data != `{"x":1}` {
		t.Errorf("event[0] = %+v", evs[0])
	}
}

func TestReader_TruncatedFrameSurfacesEOF(t *testing.T) {
	rd := sse.NewReader(strings.NewReader("data: cut-off"))
	// The dangling line is parsed, but no blank line ever dispatches it.
	if _, err := rd.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}
