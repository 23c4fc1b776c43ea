package engine

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-dev/parley/pkg/ai"
)

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// toolCallParser extracts in-band tool calls of the form
//
//	<tool_call>{"name": "search", "arguments": {...}}</tool_call>
//
// from streamed text. Outside a block, text flows through with the tail
// held back while it could still open a block; inside a block, text is
// buffered until the closing tag. A block whose body is not valid JSON is
// passed through verbatim as plain content.
type toolCallParser struct {
	buf    string
	inside bool
}

type wireTextualCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func newToolCallParser() *toolCallParser {
	return &toolCallParser{}
}

// Feed appends text and returns the plain content ready to emit plus any
// completed calls, in the order they appeared.
func (p *toolCallParser) Feed(text string) (emit string, calls []ai.ToolCall) {
	p.buf += text
	var out strings.Builder

	for {
		if p.inside {
			end := strings.Index(p.buf, toolCallClose)
			if end < 0 {
				break
			}
			body := p.buf[:end]
			p.buf = p.buf[end+len(toolCallClose):]
			p.inside = false
			if call, ok := parseTextualCall(body); ok {
				calls = append(calls, call)
			} else {
				out.WriteString(toolCallOpen + body + toolCallClose)
			}
			continue
		}

		start := strings.Index(p.buf, toolCallOpen)
		if start >= 0 {
			out.WriteString(p.buf[:start])
			p.buf = p.buf[start+len(toolCallOpen):]
			p.inside = true
			continue
		}

		hold := tagHoldback(p.buf)
		out.WriteString(p.buf[:len(p.buf)-hold])
		p.buf = p.buf[len(p.buf)-hold:]
		break
	}
	return out.String(), calls
}

// Flush releases whatever is buffered when the stream ends without a
// complete block: an unterminated block is plain assistant content.
func (p *toolCallParser) Flush() string {
	out := p.buf
	if p.inside {
		out = toolCallOpen + out
	}
	p.buf = ""
	p.inside = false
	return out
}

func parseTextualCall(body string) (ai.ToolCall, bool) {
	var w wireTextualCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &w); err != nil || w.Name == "" {
		return ai.ToolCall{}, false
	}
	args := w.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ai.ToolCall{ID: uuid.NewString(), Name: w.Name, Arguments: args}, true
}

// tagHoldback is the length of the longest tail of buf that is a proper
// prefix of the opening tag.
func tagHoldback(buf string) int {
	max := len(toolCallOpen) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if strings.HasPrefix(toolCallOpen, buf[len(buf)-l:]) {
			return l
		}
	}
	return 0
}
