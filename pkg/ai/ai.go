// Package ai defines the canonical completion model shared by every
// provider: messages, generation profiles, streamed chunks, completion
// metrics, the error taxonomy, and the provider interface.
package ai

import "encoding/json"

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request by the model to invoke an external tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object
}

// Message is one entry of a conversation. Messages are value objects:
// ordered and append-only within a turn.
//
// ToolCalls is set on assistant messages that requested tools. ToolCallID,
// ToolName and IsError are set on tool messages carrying a tool's result
// back to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolMessage builds the tool-role message answering the given call.
func ToolMessage(call ToolCall, output string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

// ---------------------------------------------------------------------------
// Generation profile
// ---------------------------------------------------------------------------

// Profile holds generation parameters for one request. Fields are pointers
// so an agent override can distinguish "set to zero" from "unset"; unset
// fields inherit the session default on Merge.
type Profile struct {
	Temperature   *float64 `yaml:"temperature" json:"temperature,omitempty"`
	TopK          *int     `yaml:"top_k" json:"top_k,omitempty"`
	TopP          *float64 `yaml:"top_p" json:"top_p,omitempty"`
	RepeatPenalty *float64 `yaml:"repeat_penalty" json:"repeat_penalty,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
	StopWords     []string `yaml:"stop" json:"stop,omitempty"`
}

// DefaultProfile returns the stock generation parameters.
func DefaultProfile() Profile {
	return Profile{
		Temperature:   Float(0.7),
		TopK:          Int(40),
		TopP:          Float(0.1),
		RepeatPenalty: Float(1.176),
		MaxTokens:     Int(1024),
	}
}

// Merge returns a copy of p with every set field of over applied on top.
// Field-level override: an explicitly set field in over wins, unset fields
// keep p's value.
func (p Profile) Merge(over Profile) Profile {
	out := p
	if over.Temperature != nil {
		out.Temperature = over.Temperature
	}
	if over.TopK != nil {
		out.TopK = over.TopK
	}
	if over.TopP != nil {
		out.TopP = over.TopP
	}
	if over.RepeatPenalty != nil {
		out.RepeatPenalty = over.RepeatPenalty
	}
	if over.MaxTokens != nil {
		out.MaxTokens = over.MaxTokens
	}
	if len(over.StopWords) > 0 {
		out.StopWords = append([]string(nil), over.StopWords...)
	}
	return out
}

// Float returns a pointer to v, for building Profile literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building Profile literals.
func Int(v int) *int { return &v }

// ---------------------------------------------------------------------------
// Tool definition (schema handed to the model)
// ---------------------------------------------------------------------------

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ---------------------------------------------------------------------------
// Request / streamed chunks
// ---------------------------------------------------------------------------

// CompletionRequest is the canonical request every adapter translates into
// its backend's wire format. Messages is a snapshot; mutating the session
// after submission does not affect an in-flight request. Cancellation rides
// on the context passed to Provider.Stream.
type CompletionRequest struct {
	Messages []Message
	Profile  Profile
	Tools    []ToolDefinition
}

type FinishReason string

const (
	FinishNone     FinishReason = ""
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishToolCall FinishReason = "tool_call"
	FinishCanceled FinishReason = "canceled"
	FinishError    FinishReason = "error"
)

// ToolCallDelta is one native structured tool-call fragment. Fragments with
// the same Index belong to the same call; Arguments fragments concatenate
// into a JSON object.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// CompletionChunk is one incremental unit of a streamed completion.
// Chunks form a lazy, finite, non-restartable sequence per request and are
// delivered in generation order.
type CompletionChunk struct {
	Text         string
	ToolCall     *ToolCallDelta
	FinishReason FinishReason
	// Metrics carries the partial metrics observed with this chunk (latency
	// slice, provider-reported token counts on the terminal chunk).
	Metrics CompletionMetrics
}

// CompletionResult is the final outcome of one streamed request.
type CompletionResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Metrics      CompletionMetrics
	// ErrorMessage is the human-readable reason for FinishError; partial
	// output already streamed is kept in Text, never retracted.
	ErrorMessage string
}
