package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

// sseServer streams the given frames as one SSE response.
func sseServer(t *testing.T, frames []string, handle func(*http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handle != nil {
			handle(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			fl.Flush()
		}
	}))
}

func drain(t *testing.T, p *Provider, req ai.CompletionRequest) (string, *ai.CompletionResult, error) {
	t.Helper()
	chunks, wait := p.Stream(context.Background(), req)
	var text strings.Builder
	for c := range chunks {
		text.WriteString(c.Text)
	}
	res, err := wait()
	return text.String(), res, err
}

func contentFrame(s string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, s)
}

func TestStreamTextDeltas(t *testing.T) {
	var gotReq wireRequest
	srv := sseServer(t, []string{
		contentFrame("Hello"),
		contentFrame(", world"),
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2}}`,
		"[DONE]",
	}, func(r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
	})
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key", Model: "gpt-test"}, zerolog.Nop())
	req := ai.CompletionRequest{
		Messages: []ai.Message{ai.UserMessage("hi")},
		Profile:  ai.Profile{Temperature: ai.Float(0.5), StopWords: []string{"END"}},
	}
	text, res, err := drain(t, p, req)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello, world" || res.Text != "Hello, world" {
		t.Fatalf("text = %q / %q", text, res.Text)
	}
	if res.FinishReason != ai.FinishStop {
		t.Fatalf("finish = %q", res.FinishReason)
	}
	if res.Metrics.PromptTokens != 12 || res.Metrics.CompletionTokens != 2 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}

	if gotReq.Model != "gpt-test" || !gotReq.Stream {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.5 {
		t.Error("temperature not forwarded")
	}
	if len(gotReq.Stop) != 1 || gotReq.Stop[0] != "END" {
		t.Errorf("stop = %v", gotReq.Stop)
	}
	if gotReq.StreamOptions == nil || !gotReq.StreamOptions.IncludeUsage {
		t.Error("stream_options.include_usage must be requested")
	}
}

func TestStreamToolCallDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	}, nil)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	chunks, wait := p.Stream(context.Background(), ai.CompletionRequest{})
	var deltas int
	for c := range chunks {
		if c.ToolCall != nil {
			deltas++
		}
	}
	res, err := wait()
	if err != nil {
		t.Fatal(err)
	}
	if deltas != 3 {
		t.Errorf("tool-call deltas = %d, want 3", deltas)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	call := res.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "search" {
		t.Errorf("call = %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args["query"] != "go" {
		t.Errorf("arguments = %s (%v)", call.Arguments, err)
	}
	if res.FinishReason != ai.FinishToolCall {
		t.Errorf("finish = %q", res.FinishReason)
	}
}

func TestStreamMalformedFrameIsProtocolError(t *testing.T) {
	srv := sseServer(t, []string{
		contentFrame("partial"),
		`{this is not json`,
	}, nil)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	text, res, err := drain(t, p, ai.CompletionRequest{})
	if ai.KindOf(err) != ai.KindProtocol {
		t.Fatalf("err = %v, want protocol", err)
	}
	// The streamed prefix survives the failure.
	if text != "partial" || res.Text != "partial" {
		t.Fatalf("text = %q / %q", text, res.Text)
	}
	if res.FinishReason != ai.FinishError {
		t.Fatalf("finish = %q", res.FinishReason)
	}
}

func TestStreamMidStreamCutSurfacesPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", contentFrame("begun"))
		w.(http.Flusher).Flush()
		// Kill the connection without a terminating sentinel.
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	text, res, err := drain(t, p, ai.CompletionRequest{})
	if ai.KindOf(err) != ai.KindTransport {
		t.Fatalf("err = %v, want transport", err)
	}
	if text != "begun" || res.Text != "begun" {
		t.Fatalf("text = %q / %q", text, res.Text)
	}
}

func TestStreamConnectRefusedIsTransport(t *testing.T) {
	// A closed server refuses before any byte is received.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	_, res, err := drain(t, p, ai.CompletionRequest{})
	if ai.KindOf(err) != ai.KindTransport {
		t.Fatalf("err = %v, want transport", err)
	}
	if res != nil {
		t.Fatalf("res = %+v, want nil before first byte", res)
	}
}

func TestStreamHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	_, _, err := drain(t, p, ai.CompletionRequest{})
	if ai.KindOf(err) != ai.KindTransport {
		t.Fatalf("err = %v, want transport", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want status in message", err)
	}
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", contentFrame("one"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	chunks, wait := p.Stream(ctx, ai.CompletionRequest{})

	var text strings.Builder
	for c := range chunks {
		text.WriteString(c.Text)
		if c.Text != "" {
			cancel()
		}
	}
	res, err := wait()
	if ai.KindOf(err) != ai.KindCanceled {
		t.Fatalf("err = %v, want canceled", err)
	}
	if res.FinishReason != ai.FinishCanceled {
		t.Fatalf("finish = %q", res.FinishReason)
	}
	if text.String() != "one" {
		t.Fatalf("text = %q", text.String())
	}
}

func TestStreamEstimatesTokensWithoutUsage(t *testing.T) {
	srv := sseServer(t, []string{
		contentFrame("twelve bytes"),
		"[DONE]",
	}, nil)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())
	_, res, err := drain(t, p, ai.CompletionRequest{
		Messages: []ai.Message{ai.UserMessage("a prompt of some length")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metrics.CompletionTokens == 0 || res.Metrics.PromptTokens == 0 {
		t.Fatalf("estimated metrics missing: %+v", res.Metrics)
	}
}
