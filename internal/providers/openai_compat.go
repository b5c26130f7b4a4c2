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

// OpenAICompatProvider talks to any Chat Completions-compatible endpoint:
// OpenAI itself, OpenRouter, or a self-hosted Ollama/vLLM gateway.
type OpenAICompatProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAICompatProvider(name, apiKey, baseURL string) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAICompatProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := oaiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  toOpenAIMessages(req.System, req.Messages),
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal %s request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read %s response: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb oaiErrorBody
		_ = json.Unmarshal(respBody, &eb)
		if eb.Error.Message != "" {
			return ChatResponse{}, fmt.Errorf("%s API %d (%s): %s", p.name, resp.StatusCode, eb.Error.Type, eb.Error.Message)
		}
		return ChatResponse{}, fmt.Errorf("%s API returned %d: %s", p.name, resp.StatusCode, string(respBody))
	}

	var or oaiResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return ChatResponse{}, fmt.Errorf("parse %s response: %w", p.name, err)
	}
	if len(or.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("%s response had no choices", p.name)
	}
	choice := or.Choices[0]

	return ChatResponse{
		Blocks:     fromOpenAIMessage(choice.Message),
		StopReason: fromOpenAIFinishReason(choice.FinishReason),
		Usage:      ChatUsage{InputTokens: or.Usage.PromptTokens, OutputTokens: or.Usage.CompletionTokens},
		Model:      or.Model,
	}, nil
}

func toOpenAIMessages(system string, msgs []ChatMessage) []oaiMessage {
	var out []oaiMessage
	if system != "" {
		out = append(out, oaiMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		role := "user"
		switch m.Role {
		case RoleAssistant:
			role = "assistant"
		case RoleSystem:
			role = "system"
		}

		var text string
		var toolCalls []oaiToolCall
		for _, b := range m.Blocks {
			switch b.Kind {
			case BlockText:
				text += b.Text
			case BlockToolCall:
				toolCalls = append(toolCalls, oaiToolCall{
					ID:   b.ToolCallID,
					Type: "function",
					Function: struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					}{Name: b.ToolName, Arguments: string(b.ToolInputRaw)},
				})
			case BlockToolResult:
				out = append(out, oaiMessage{Role: "tool", Content: b.ToolResultText, ToolCallID: b.ToolResultForID})
				continue
			}
		}
		if text != "" || len(toolCalls) > 0 {
			out = append(out, oaiMessage{Role: role, Content: text, ToolCalls: toolCalls})
		}
	}
	return out
}

func fromOpenAIMessage(m oaiMessage) []ChatBlock {
	var blocks []ChatBlock
	if m.Content != "" {
		blocks = append(blocks, TextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, ToolCallBlock(tc.ID, tc.Function.Name, []byte(tc.Function.Arguments)))
	}
	return blocks
}

func fromOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxToken
	default:
		return StopUnknown
	}
}
