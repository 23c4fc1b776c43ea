package local

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

// Provider runs completions against a locally loaded model.
type Provider struct {
	settings Settings
	cache    *HandleCache
	log      zerolog.Logger
}

// New creates a Provider over the given handle cache. Passing a shared
// cache lets several sessions with the same fingerprint reuse one loaded
// instance.
func New(settings Settings, cache *HandleCache, log zerolog.Logger) *Provider {
	if cache == nil {
		cache = NewHandleCache(log)
	}
	return &Provider{
		settings: settings.withDefaults(),
		cache:    cache,
		log:      log.With().Str("provider", "local").Logger(),
	}
}

func (p *Provider) Name() string { return "local" }

// Local models embed tool calls in generated text; the engine's textual
// interpreter parses them.
func (p *Provider) Capabilities() ai.Capabilities {
	return ai.Capabilities{NativeToolCalls: false}
}

// Load warms the prefix cache by decoding text (typically the system
// prompt) ahead of the first completion.
func (p *Provider) Load(ctx context.Context, text string) error {
	handle, err := p.cache.Acquire(ctx, p.settings)
	if err != nil {
		return err
	}
	handle.genMu.Lock()
	defer handle.genMu.Unlock()

	tokens, err := handle.inst.Tokenize(text)
	if err != nil {
		return ai.WrapErr(ai.KindConfigInvalid, err, "tokenize warm-up text")
	}
	return p.ensurePrefix(ctx, handle, tokens)
}

// CountTokens implements ai.TokenCounter with the loaded tokenizer; the
// chars/4 heuristic applies while no model is loaded.
func (p *Provider) CountTokens(text string) int {
	p.cache.mu.Lock()
	handle := p.cache.handle
	p.cache.mu.Unlock()
	if handle == nil {
		return len(text) / 4
	}
	tokens, err := handle.inst.Tokenize(text)
	if err != nil {
		return len(text) / 4
	}
	return len(tokens)
}

func (p *Provider) Stream(ctx context.Context, req ai.CompletionRequest) (<-chan ai.CompletionChunk, func() (*ai.CompletionResult, error)) {
	chunks := make(chan ai.CompletionChunk, 16)
	done := make(chan struct{})
	var result *ai.CompletionResult
	var finalErr error

	go func() {
		defer close(chunks)
		defer close(done)
		result, finalErr = p.generate(ctx, req, chunks)
	}()

	wait := func() (*ai.CompletionResult, error) {
		<-done
		return result, finalErr
	}
	return chunks, wait
}

func (p *Provider) generate(ctx context.Context, req ai.CompletionRequest, chunks chan<- ai.CompletionChunk) (*ai.CompletionResult, error) {
	handle, err := p.cache.Acquire(ctx, p.settings)
	if err != nil {
		return nil, err
	}

	// One instance, one generation at a time.
	handle.genMu.Lock()
	defer handle.genMu.Unlock()

	prompt := RenderPrompt(req.Messages)
	tokens, err := handle.inst.Tokenize(prompt)
	if err != nil {
		return nil, ai.WrapErr(ai.KindProtocol, err, "tokenize prompt")
	}

	promptStart := time.Now()
	if err := p.ensurePrefix(ctx, handle, tokens); err != nil {
		if ctx.Err() != nil {
			return canceledResult(chunks), ai.WrapErr(ai.KindCanceled, ctx.Err(), "prompt decode")
		}
		return nil, err
	}
	promptLatency := time.Since(promptStart)

	res := &ai.CompletionResult{
		Metrics: ai.CompletionMetrics{PromptTokens: len(tokens)},
	}
	params := sampleParams(req.Profile)
	maxTokens := 1024
	if req.Profile.MaxTokens != nil {
		maxTokens = *req.Profile.MaxTokens
	}
	budget := handle.inst.ContextSize() - len(handle.prefix)
	if maxTokens > budget {
		maxTokens = budget
	}

	var text strings.Builder
	prev := time.Now()
	first := true

	for count := 0; ; count++ {
		if ctx.Err() != nil {
			res.Text = text.String()
			res.FinishReason = ai.FinishCanceled
			chunks <- ai.CompletionChunk{FinishReason: ai.FinishCanceled}
			return res, ai.WrapErr(ai.KindCanceled, ctx.Err(), "generation")
		}
		if count >= maxTokens {
			res.FinishReason = ai.FinishLength
			break
		}

		tok, eog, err := handle.inst.Sample(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				res.Text = text.String()
				res.FinishReason = ai.FinishCanceled
				chunks <- ai.CompletionChunk{FinishReason: ai.FinishCanceled}
				return res, ai.WrapErr(ai.KindCanceled, ctx.Err(), "generation")
			}
			res.Text = text.String()
			res.FinishReason = ai.FinishError
			res.ErrorMessage = err.Error()
			chunks <- ai.CompletionChunk{FinishReason: ai.FinishError}
			return res, ai.WrapErr(ai.KindProtocol, err, "sample")
		}
		if eog {
			res.FinishReason = ai.FinishStop
			break
		}

		handle.prefix = append(handle.prefix, tok)
		piece := handle.inst.Piece(tok)
		text.WriteString(piece)

		now := time.Now()
		metrics := ai.CompletionMetrics{TotalTime: now.Sub(prev), CompletionTokens: 1}
		if first {
			// The prompt decode belongs to time-to-first-token.
			metrics.TotalTime += promptLatency
			metrics.TimeToFirstToken = metrics.TotalTime
			first = false
		}
		prev = now
		chunks <- ai.CompletionChunk{Text: piece, Metrics: metrics}
		res.Metrics.CompletionTokens++
	}

	res.Text = text.String()
	chunks <- ai.CompletionChunk{FinishReason: res.FinishReason, Metrics: ai.CompletionMetrics{
		PromptTokens: res.Metrics.PromptTokens,
	}}
	p.log.Debug().Str("finish", string(res.FinishReason)).
		Int("prompt_tokens", res.Metrics.PromptTokens).
		Int("completion_tokens", res.Metrics.CompletionTokens).
		Msg("generation complete")
	return res, nil
}

// ensurePrefix brings the instance's evaluation state to exactly tokens.
// The shared prefix with the previous decode is reused; only the new
// suffix is decoded. When the cached state diverges from the new prompt
// (history truncated or edited), the state is reset and the whole prompt
// reprocessed.
func (p *Provider) ensurePrefix(ctx context.Context, handle *Handle, tokens []Token) error {
	shared := commonPrefix(handle.prefix, tokens)
	if shared < len(handle.prefix) {
		handle.inst.Reset()
		handle.prefix = nil
		shared = 0
	}
	suffix := tokens[shared:]
	if len(suffix) > 0 {
		if err := handle.inst.Decode(ctx, suffix); err != nil {
			return ai.WrapErr(ai.KindProtocol, err, "decode prompt")
		}
	}
	p.log.Debug().Int("prompt_tokens", len(tokens)).Int("reused", shared).Msg("prefix cache")
	handle.prefix = append([]Token(nil), tokens...)
	return nil
}

func commonPrefix(a, b []Token) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func sampleParams(p ai.Profile) SampleParams {
	sp := SampleParams{Temperature: 0.7, TopK: 40, TopP: 0.1, RepeatPenalty: 1.176}
	if p.Temperature != nil {
		sp.Temperature = *p.Temperature
	}
	if p.TopK != nil {
		sp.TopK = *p.TopK
	}
	if p.TopP != nil {
		sp.TopP = *p.TopP
	}
	if p.RepeatPenalty != nil {
		sp.RepeatPenalty = *p.RepeatPenalty
	}
	return sp
}

func canceledResult(chunks chan<- ai.CompletionChunk) *ai.CompletionResult {
	chunks <- ai.CompletionChunk{FinishReason: ai.FinishCanceled}
	return &ai.CompletionResult{FinishReason: ai.FinishCanceled}
}

// RenderPrompt renders canonical messages with the ChatML template most
// local instruction-tuned models ship with, leaving the assistant header
// open for generation.
func RenderPrompt(messages []ai.Message) string {
	return RenderPrefix(messages) + "<|im_start|>assistant\n"
}

// RenderPrefix renders messages without the trailing assistant header.
// Warming the cache with a prefix keeps it a strict prefix of every
// later prompt that starts with the same messages.
func RenderPrefix(messages []ai.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	return b.String()
}
