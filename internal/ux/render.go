// Package ux formats assistant output for the terminal.
package ux

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"github.com/parley-dev/parley/pkg/ai"
)

// Renderer pretty-prints markdown when stdout is a terminal and passes
// text through unchanged otherwise, so piped output stays clean.
type Renderer struct {
	tr *glamour.TermRenderer
}

func NewRenderer() *Renderer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return &Renderer{}
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{tr: tr}
}

// Interactive reports whether output is being rendered for a terminal.
func (r *Renderer) Interactive() bool { return r.tr != nil }

// Render returns the terminal form of markdown content. On any failure
// the content comes back unchanged.
func (r *Renderer) Render(content string) string {
	if r.tr == nil {
		return content
	}
	out, err := r.tr.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// Footer is the one-line stats summary printed after a completion.
func Footer(m ai.CompletionMetrics) string {
	parts := []string{fmt.Sprintf("%d tokens", m.CompletionTokens)}
	if tps := m.TokensPerSecond(); tps > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", tps))
	}
	if m.TimeToFirstToken > 0 {
		parts = append(parts, fmt.Sprintf("first token %s", m.TimeToFirstToken.Round(time.Millisecond)))
	}
	if m.TotalTime > 0 {
		parts = append(parts, fmt.Sprintf("total %s", m.TotalTime.Round(time.Millisecond)))
	}
	return strings.Join(parts, " | ")
}
