package ai

import "testing"

func TestProfileMergeFieldLevelOverride(t *testing.T) {
	base := DefaultProfile()
	over := Profile{Temperature: Float(0.2), StopWords: []string{"<|im_end|>"}}

	got := base.Merge(over)
	if *got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", *got.Temperature)
	}
	// Unset fields inherit the base.
	if *got.TopK != 40 || *got.TopP != 0.1 || *got.RepeatPenalty != 1.176 {
		t.Errorf("inherited fields changed: %+v", got)
	}
	if len(got.StopWords) != 1 || got.StopWords[0] != "<|im_end|>" {
		t.Errorf("stop words = %v", got.StopWords)
	}
}

func TestProfileMergeExplicitZeroWins(t *testing.T) {
	base := DefaultProfile()
	got := base.Merge(Profile{Temperature: Float(0)})
	if *got.Temperature != 0 {
		t.Errorf("an explicitly set zero must override, got %v", *got.Temperature)
	}
}

func TestProfileMergeEmptyOverIsIdentity(t *testing.T) {
	base := DefaultProfile()
	got := base.Merge(Profile{})
	if *got.Temperature != 0.7 || *got.MaxTokens != 1024 {
		t.Errorf("merge with empty profile changed values: %+v", got)
	}
}

func TestToolMessageCarriesCallIdentity(t *testing.T) {
	call := ToolCall{ID: "abc", Name: "search", Arguments: []byte(`{}`)}
	m := ToolMessage(call, "found it", false)
	if m.Role != RoleTool || m.ToolCallID != "abc" || m.ToolName != "search" {
		t.Errorf("message = %+v", m)
	}
	if m.IsError {
		t.Error("IsError must be false")
	}
	e := ToolMessage(call, "boom", true)
	if !e.IsError {
		t.Error("IsError must be true")
	}
}
