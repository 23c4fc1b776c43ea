// Package openai implements ai.Provider for the OpenAI chat-completions
// streaming API and any OpenAI-compatible endpoint (llama-server, vLLM,
// Groq, OpenRouter, …) selected via BaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/ai/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds the connection settings for one endpoint.
type Config struct {
	// BaseURL of the endpoint; "" selects the official OpenAI API.
	BaseURL string
	// APIKey sent as a bearer token. Many local servers accept any value.
	APIKey string
	// Model name passed through to the backend.
	Model string
	// Timeout bounds the whole streaming call. Zero means 10 minutes.
	Timeout time.Duration
}

// Provider streams completions over SSE. It holds no per-request mutable
// state and may serve concurrent sessions.
type Provider struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("provider", "openai").Logger(),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Capabilities() ai.Capabilities {
	return ai.Capabilities{NativeToolCalls: true}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON string, possibly partial
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"` // "function"
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream"`
	MaxTokens     *int          `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type chunkChoice struct {
	Delta struct {
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func (p *Provider) Stream(ctx context.Context, req ai.CompletionRequest) (<-chan ai.CompletionChunk, func() (*ai.CompletionResult, error)) {
	chunks := make(chan ai.CompletionChunk, 16)
	done := make(chan struct{})
	var result *ai.CompletionResult
	var finalErr error

	go func() {
		defer close(chunks)
		defer close(done)
		result, finalErr = p.stream(ctx, req, chunks)
	}()

	wait := func() (*ai.CompletionResult, error) {
		<-done
		return result, finalErr
	}
	return chunks, wait
}

func (p *Provider) stream(ctx context.Context, req ai.CompletionRequest, chunks chan<- ai.CompletionChunk) (*ai.CompletionResult, error) {
	body, err := json.Marshal(buildRequest(p.cfg.Model, req))
	if err != nil {
		return nil, ai.WrapErr(ai.KindProtocol, err, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, ai.WrapErr(ai.KindTransport, err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// No byte was received: caller-retryable transport failure.
		return nil, classifyNetErr(ctx, err, "connect")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ai.Errorf(ai.KindTransport, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	res := &ai.CompletionResult{}
	var text strings.Builder
	calls := newToolCallAccumulator()
	reader := sse.NewReader(resp.Body)
	prev := time.Now()

	fail := func(err error) (*ai.CompletionResult, error) {
		// Surface whatever was already produced plus an error marker; the
		// streamed prefix is never silently truncated.
		res.Text = text.String()
		res.FinishReason = ai.FinishError
		if ai.KindOf(err) == ai.KindCanceled {
			res.FinishReason = ai.FinishCanceled
		}
		res.ErrorMessage = err.Error()
		chunks <- ai.CompletionChunk{FinishReason: res.FinishReason}
		return res, err
	}

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(classifyNetErr(ctx, err, "read stream"))
		}
		if ev.Data == "[DONE]" {
			break
		}
		if ev.Data == "" {
			continue
		}

		var sc streamChunk
		if err := json.Unmarshal([]byte(ev.Data), &sc); err != nil {
			// A malformed frame fails this request only; the provider keeps
			// no state, so the next request starts clean.
			return fail(ai.WrapErr(ai.KindProtocol, err, "malformed stream frame"))
		}

		now := time.Now()
		metrics := ai.CompletionMetrics{TotalTime: now.Sub(prev)}
		prev = now

		if sc.Usage != nil {
			metrics.PromptTokens = sc.Usage.PromptTokens
			res.Metrics.PromptTokens = sc.Usage.PromptTokens
			res.Metrics.CompletionTokens = sc.Usage.CompletionTokens
		}
		if len(sc.Choices) == 0 {
			// Usage-only frame.
			if sc.Usage != nil {
				chunks <- ai.CompletionChunk{Metrics: metrics}
			}
			continue
		}

		choice := sc.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			metrics.CompletionTokens = 1 // refined by the usage frame
			chunks <- ai.CompletionChunk{Text: choice.Delta.Content, Metrics: metrics}
		}
		for _, tc := range choice.Delta.ToolCalls {
			delta := calls.feed(tc)
			chunks <- ai.CompletionChunk{ToolCall: &delta}
		}
		if choice.FinishReason != "" {
			res.FinishReason = mapFinishReason(choice.FinishReason)
		}
	}

	res.Text = text.String()
	res.ToolCalls = calls.finish()
	if res.FinishReason == ai.FinishNone {
		res.FinishReason = ai.FinishStop
	}
	if res.Metrics.CompletionTokens == 0 {
		// Backend reported no usage; estimate from the streamed text.
		res.Metrics.CompletionTokens = estimateTokens(res.Text)
	}
	if res.Metrics.PromptTokens == 0 {
		for _, m := range req.Messages {
			res.Metrics.PromptTokens += estimateTokens(m.Content)
		}
	}
	chunks <- ai.CompletionChunk{FinishReason: res.FinishReason, Metrics: ai.CompletionMetrics{
		PromptTokens:     res.Metrics.PromptTokens,
		CompletionTokens: 0,
	}}
	p.log.Debug().Str("finish", string(res.FinishReason)).Int("prompt_tokens", res.Metrics.PromptTokens).Msg("stream complete")
	return res, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buildRequest(model string, req ai.CompletionRequest) wireRequest {
	wr := wireRequest{
		Model:       model,
		Stream:      true,
		MaxTokens:   req.Profile.MaxTokens,
		Temperature: req.Profile.Temperature,
		TopP:        req.Profile.TopP,
		Stop:        req.Profile.StopWords,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == ai.RoleTool {
			wm.ToolCallID = m.ToolCallID
		}
		for i, tc := range m.ToolCalls {
			wtc := wireToolCall{Index: i, ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wr.Tools = append(wr.Tools, wt)
	}
	return wr
}

// toolCallAccumulator stitches per-index argument fragments back into
// complete calls.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*ai.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int]*ai.ToolCall)}
}

func (a *toolCallAccumulator) feed(tc wireToolCall) ai.ToolCallDelta {
	cur, ok := a.byIdx[tc.Index]
	if !ok {
		cur = &ai.ToolCall{}
		a.byIdx[tc.Index] = cur
		a.order = append(a.order, tc.Index)
	}
	if tc.ID != "" {
		cur.ID = tc.ID
	}
	if tc.Function.Name != "" {
		cur.Name = tc.Function.Name
	}
	cur.Arguments = append(cur.Arguments, tc.Function.Arguments...)
	return ai.ToolCallDelta{
		Index:     tc.Index,
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: tc.Function.Arguments,
	}
}

func (a *toolCallAccumulator) finish() []ai.ToolCall {
	var out []ai.ToolCall
	for _, idx := range a.order {
		tc := a.byIdx[idx]
		if tc.ID == "" {
			tc.ID = uuid.NewString()
		}
		if len(tc.Arguments) == 0 {
			tc.Arguments = json.RawMessage("{}")
		}
		out = append(out, *tc)
	}
	return out
}

func mapFinishReason(s string) ai.FinishReason {
	switch s {
	case "stop":
		return ai.FinishStop
	case "length":
		return ai.FinishLength
	case "tool_calls":
		return ai.FinishToolCall
	default:
		return ai.FinishReason(s)
	}
}

func classifyNetErr(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return ai.WrapErr(ai.KindCanceled, ctx.Err(), op)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ai.WrapErr(ai.KindTimeout, err, op)
	}
	return ai.WrapErr(ai.KindTransport, err, fmt.Sprintf("%s failed", op))
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
