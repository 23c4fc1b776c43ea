// Package ollama implements ai.Provider for an Ollama-style model server.
//
// The wire format is newline-delimited JSON objects streamed from
// POST /api/chat; the terminal object has "done": true and carries the
// server-reported token counts. json.Decoder tolerates object boundaries
// falling mid-read, so no extra framing layer is needed.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

const defaultHost = "http://localhost:11434"

type Config struct {
	// Host of the model server; "" selects the default local port.
	Host string
	// Model name known to the server, e.g. "llama3:8b".
	Model string
	// Timeout bounds the whole streaming call. Zero means 10 minutes.
	Timeout time.Duration
}

// Provider holds no per-request mutable state; concurrent sessions may
// share one instance.
type Provider struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Provider {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("provider", "ollama").Logger(),
	}
}

func (p *Provider) Name() string { return "ollama" }

// Ollama-style servers do not stream structured tool-call deltas; the
// engine's textual interpreter handles in-band calls.
func (p *Provider) Capabilities() ai.Capabilities {
	return ai.Capabilities{NativeToolCalls: false}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  wireOptions   `json:"options"`
}

type wireChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
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
	wr := wireRequest{
		Model:  p.cfg.Model,
		Stream: true,
		Options: wireOptions{
			Temperature:   req.Profile.Temperature,
			TopK:          req.Profile.TopK,
			TopP:          req.Profile.TopP,
			RepeatPenalty: req.Profile.RepeatPenalty,
			NumPredict:    req.Profile.MaxTokens,
			Stop:          req.Profile.StopWords,
		},
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, ai.WrapErr(ai.KindProtocol, err, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.cfg.Host, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, ai.WrapErr(ai.KindTransport, err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ai.WrapErr(ai.KindCanceled, ctx.Err(), "connect")
		}
		return nil, ai.WrapErr(ai.KindTransport, err, "connect failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ai.Errorf(ai.KindTransport, "HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	res := &ai.CompletionResult{}
	var text strings.Builder
	dec := json.NewDecoder(resp.Body)
	prev := time.Now()

	fail := func(err error) (*ai.CompletionResult, error) {
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
		var wc wireChunk
		if err := dec.Decode(&wc); err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return fail(ai.WrapErr(ai.KindCanceled, ctx.Err(), "read stream"))
			}
			// A malformed object is a protocol failure; anything else is
			// the connection dropping under the decoder.
			if isMalformed(err) {
				return fail(ai.WrapErr(ai.KindProtocol, err, "malformed stream object"))
			}
			return fail(ai.WrapErr(ai.KindTransport, err, "read stream"))
		}

		now := time.Now()
		metrics := ai.CompletionMetrics{TotalTime: now.Sub(prev)}
		prev = now

		if wc.Message.Content != "" {
			text.WriteString(wc.Message.Content)
			metrics.CompletionTokens = 1
			chunks <- ai.CompletionChunk{Text: wc.Message.Content, Metrics: metrics}
		}
		if wc.Done {
			res.FinishReason = mapDoneReason(wc.DoneReason)
			res.Metrics.PromptTokens = wc.PromptEvalCount
			res.Metrics.CompletionTokens = wc.EvalCount
			chunks <- ai.CompletionChunk{
				FinishReason: res.FinishReason,
				Metrics: ai.CompletionMetrics{
					TotalTime:    metrics.TotalTime,
					PromptTokens: wc.PromptEvalCount,
				},
			}
			break
		}
	}

	res.Text = text.String()
	if res.FinishReason == ai.FinishNone {
		res.FinishReason = ai.FinishStop
	}
	p.log.Debug().Str("finish", string(res.FinishReason)).
		Int("prompt_tokens", res.Metrics.PromptTokens).
		Int("completion_tokens", res.Metrics.CompletionTokens).
		Msg("stream complete")
	return res, nil
}

func isMalformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func mapDoneReason(s string) ai.FinishReason {
	switch s {
	case "", "stop":
		return ai.FinishStop
	case "length":
		return ai.FinishLength
	default:
		return ai.FinishReason(s)
	}
}
