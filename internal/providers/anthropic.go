package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnthropicProvider calls the Anthropic Messages API directly.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentItem `json:"content"`
}

type anthropicContentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentItem `json:"content"`
	StopReason string                 `json:"stop_reason"`
	Model      string                 `json:"model"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb anthropicErrorBody
		_ = json.Unmarshal(respBody, &eb)
		if eb.Error.Message != "" {
			return ChatResponse{}, fmt.Errorf("anthropic API %d (%s): %s", resp.StatusCode, eb.Error.Type, eb.Error.Message)
		}
		return ChatResponse{}, fmt.Errorf("anthropic API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return ChatResponse{}, fmt.Errorf("parse anthropic response: %w", err)
	}

	return ChatResponse{
		Blocks:     fromAnthropicContent(ar.Content),
		StopReason: fromAnthropicStopReason(ar.StopReason),
		Usage:      ChatUsage{InputTokens: ar.Usage.InputTokens, OutputTokens: ar.Usage.OutputTokens},
		Model:      ar.Model,
	}, nil
}

func toAnthropicMessages(msgs []ChatMessage) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue // system prompt is carried separately
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		var content []anthropicContentItem
		for _, b := range m.Blocks {
			switch b.Kind {
			case BlockText:
				content = append(content, anthropicContentItem{Type: "text", Text: b.Text})
			case BlockToolCall:
				content = append(content, anthropicContentItem{
					Type: "tool_use", ID: b.ToolCallID, Name: b.ToolName, Input: b.ToolInputRaw,
				})
			case BlockToolResult:
				content = append(content, anthropicContentItem{
					Type: "tool_result", ToolUseID: b.ToolResultForID, Content: b.ToolResultText, IsError: b.ToolResultError,
				})
			}
		}
		out = append(out, anthropicMessage{Role: role, Content: content})
	}
	return out
}

func fromAnthropicContent(items []anthropicContentItem) []ChatBlock {
	var blocks []ChatBlock
	for _, it := range items {
		switch it.Type {
		case "text":
			blocks = append(blocks, TextBlock(it.Text))
		case "tool_use":
			blocks = append(blocks, ToolCallBlock(it.ID, it.Name, it.Input))
		}
	}
	return blocks
}

func fromAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxToken
	default:
		return StopUnknown
	}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
