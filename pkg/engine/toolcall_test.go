package engine

import (
	"encoding/json"
	"testing"
)

func parseAll(p *toolCallParser, parts ...string) (string, []string) {
	var text string
	var names []string
	for _, part := range parts {
		emit, calls := p.Feed(part)
		text += emit
		for _, c := range calls {
			names = append(names, c.Name)
		}
	}
	return text + p.Flush(), names
}

func TestToolCallParserCompleteBlock(t *testing.T) {
	p := newToolCallParser()
	emit, calls := p.Feed(`before <tool_call>{"name":"search","arguments":{"query":"go"}}</tool_call> after`)
	if emit+p.Flush() != "before  after" {
		t.Fatalf("emit = %q", emit)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.Name != "search" {
		t.Errorf("name = %q", c.Name)
	}
	if c.ID == "" {
		t.Error("call must get a generated id")
	}
	var args map[string]any
	if err := json.Unmarshal(c.Arguments, &args); err != nil || args["query"] != "go" {
		t.Errorf("arguments = %s (%v)", c.Arguments, err)
	}
}

func TestToolCallParserSplitAcrossChunks(t *testing.T) {
	p := newToolCallParser()
	text, names := parseAll(p,
		"I'll check. <tool_",
		`call>{"name":"datetime","argu`,
		`ments":{}}</tool_`,
		"call> Done.",
	)
	if text != "I'll check.  Done." {
		t.Fatalf("text = %q", text)
	}
	if len(names) != 1 || names[0] != "datetime" {
		t.Fatalf("names = %v", names)
	}
}

func TestToolCallParserUnterminatedBlockIsPlainText(t *testing.T) {
	p := newToolCallParser()
	text, names := parseAll(p, `sure <tool_call>{"name":"search"`)
	if len(names) != 0 {
		t.Fatalf("names = %v, want none", names)
	}
	if text != `sure <tool_call>{"name":"search"` {
		t.Fatalf("text = %q", text)
	}
}

func TestToolCallParserInvalidJSONPassesThrough(t *testing.T) {
	p := newToolCallParser()
	text, names := parseAll(p, "<tool_call>not json</tool_call>")
	if len(names) != 0 {
		t.Fatalf("names = %v, want none", names)
	}
	if text != "<tool_call>not json</tool_call>" {
		t.Fatalf("text = %q", text)
	}
}

func TestToolCallParserMissingArgumentsDefaultsToEmptyObject(t *testing.T) {
	p := newToolCallParser()
	_, calls := p.Feed(`<tool_call>{"name":"datetime"}</tool_call>`)
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if string(calls[0].Arguments) != "{}" {
		t.Fatalf("arguments = %s", calls[0].Arguments)
	}
}

func TestToolCallParserTwoBlocks(t *testing.T) {
	p := newToolCallParser()
	text, names := parseAll(p,
		`<tool_call>{"name":"a","arguments":{}}</tool_call>`,
		` and <tool_call>{"name":"b","arguments":{}}</tool_call>`,
	)
	if text != " and " {
		t.Fatalf("text = %q", text)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestToolCallParserAngleBracketsWithoutTag(t *testing.T) {
	p := newToolCallParser()
	text, names := parseAll(p, "x < y and <b>bold</b>")
	if len(names) != 0 {
		t.Fatalf("names = %v", names)
	}
	if text != "x < y and <b>bold</b>" {
		t.Fatalf("text = %q", text)
	}
}
