package ai

import "time"

// CompletionMetrics measures one completion, or any contiguous slice of
// one. The engine builds a per-chunk metrics value (TotalTime = latency
// since the previous chunk, TimeToFirstToken set when the chunk carries the
// first non-empty delta) and folds them with Combine.
type CompletionMetrics struct {
	// TimeToFirstToken is the time from request submission to the first
	// non-empty text delta. Zero means no token was observed yet.
	TimeToFirstToken time.Duration
	// TotalTime spans the measured interval.
	TotalTime time.Duration
	// PromptTokens is the provider-reported prompt size (adapter-estimated
	// when the backend reports none).
	PromptTokens int
	// CompletionTokens counts generated tokens in the interval.
	CompletionTokens int
}

// Combine folds next, the metrics of the interval that follows m, into m.
//
// Combine is associative over any consistent partition of a chunk sequence:
// splitting the sequence anywhere, folding each part, then folding the
// partials yields the same totals as folding every chunk directly.
func (m CompletionMetrics) Combine(next CompletionMetrics) CompletionMetrics {
	out := CompletionMetrics{
		TotalTime:        m.TotalTime + next.TotalTime,
		CompletionTokens: m.CompletionTokens + next.CompletionTokens,
		PromptTokens:     max(m.PromptTokens, next.PromptTokens),
	}
	switch {
	case m.TimeToFirstToken > 0:
		out.TimeToFirstToken = m.TimeToFirstToken
	case next.TimeToFirstToken > 0:
		// First token arrived in the later interval; the earlier interval
		// contributes its full duration as lead time.
		out.TimeToFirstToken = m.TotalTime + next.TimeToFirstToken
	}
	return out
}

// CombineMetrics folds a series of per-chunk metrics in arrival order.
func CombineMetrics(series []CompletionMetrics) CompletionMetrics {
	var out CompletionMetrics
	for _, m := range series {
		out = out.Combine(m)
	}
	return out
}

// TokensPerSecond reports generation throughput. Zero when no time elapsed.
func (m CompletionMetrics) TokensPerSecond() float64 {
	if m.TotalTime <= 0 {
		return 0
	}
	return float64(m.CompletionTokens) / m.TotalTime.Seconds()
}
