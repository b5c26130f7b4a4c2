// Package providers defines the provider-agnostic chat contract every LLM
// backend implements, so the router and inference loop never see a
// provider-specific request or response shape.
package providers

import "context"

// ChatRole identifies the speaker of a ChatMessage.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// BlockKind discriminates the variants of ChatBlock. Go has no sum type,
// so the tagged union from the original Rust ChatBlock enum is expressed
// as a single struct with a Kind tag and the fields for that kind set.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolCall   BlockKind = "tool_call"
	BlockToolResult BlockKind = "tool_result"
)

// ChatBlock is one unit of message content: plain text, a tool invocation
// requested by the model, or the result fed back for one.
type ChatBlock struct {
	Kind BlockKind

	// Text is set when Kind == BlockText.
	Text string

	// ToolCall fields, set when Kind == BlockToolCall.
	ToolCallID   string
	ToolName     string
	ToolInputRaw []byte // raw JSON arguments as returned by the model

	// ToolResult fields, set when Kind == BlockToolResult.
	ToolResultForID string
	ToolResultText  string
	ToolResultError bool
}

// TextBlock builds a BlockText block.
func TextBlock(text string) ChatBlock {
	return ChatBlock{Kind: BlockText, Text: text}
}

// ToolCallBlock builds a BlockToolCall block.
func ToolCallBlock(id, name string, inputRaw []byte) ChatBlock {
	return ChatBlock{Kind: BlockToolCall, ToolCallID: id, ToolName: name, ToolInputRaw: inputRaw}
}

// ToolResultBlock builds a BlockToolResult block.
func ToolResultBlock(forID, text string, isError bool) ChatBlock {
	return ChatBlock{Kind: BlockToolResult, ToolResultForID: forID, ToolResultText: text, ToolResultError: isError}
}

// ChatMessage is one turn in a conversation, provider-agnostic.
type ChatMessage struct {
	Role   ChatRole
	Blocks []ChatBlock
}

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopToolUse  StopReason = "tool_use"
	StopMaxToken StopReason = "max_tokens"
	StopUnknown  StopReason = "unknown"
)

// ChatUsage reports token accounting for a single call, used for cost
// estimation and context-budget tracking.
type ChatUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is what every provider returns for a single turn.
type ChatResponse struct {
	Blocks     []ChatBlock
	StopReason StopReason
	Usage      ChatUsage
	Model      string
}

// ToolSpec describes one callable tool offered to the model, in the
// provider-neutral shape every provider client translates into its own
// wire format.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema, decoded
}

// ChatRequest bundles everything a provider needs for one call.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
	Tools    []ToolSpec
	Model    string
	MaxTokens int
}

// Provider is implemented once per LLM backend (Anthropic, OpenAI-compatible,
// Google). The router holds an ordered list of Providers and fails over
// between them.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
