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

// GoogleProvider calls the Gemini generateContent REST API directly.
type GoogleProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewGoogleProvider(apiKey, baseURL string) *GoogleProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFuncResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := geminiRequest{Contents: toGeminiContents(req.Messages)}
	body.GenerationConfig.MaxOutputTokens = maxTokensOrDefault(req.MaxTokens)
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb geminiErrorBody
		_ = json.Unmarshal(respBody, &eb)
		if eb.Error.Message != "" {
			return ChatResponse{}, fmt.Errorf("gemini API %d (%s): %s", resp.StatusCode, eb.Error.Status, eb.Error.Message)
		}
		return ChatResponse{}, fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return ChatResponse{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return ChatResponse{}, fmt.Errorf("gemini response had no candidates")
	}
	cand := gr.Candidates[0]
	blocks := fromGeminiParts(cand.Content.Parts)
	stopReason := fromGeminiFinishReason(cand.FinishReason)
	for _, b := range blocks {
		if b.Kind == BlockToolCall {
			stopReason = StopToolUse
			break
		}
	}

	return ChatResponse{
		Blocks:     blocks,
		StopReason: stopReason,
		Usage: ChatUsage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
		},
		Model: gr.ModelVersion,
	}, nil
}

func toGeminiContents(msgs []ChatMessage) []geminiContent {
	var out []geminiContent
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		var parts []geminiPart
		for _, b := range m.Blocks {
			switch b.Kind {
			case BlockText:
				parts = append(parts, geminiPart{Text: b.Text})
			case BlockToolCall:
				var args map[string]any
				_ = json.Unmarshal(b.ToolInputRaw, &args)
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: b.ToolName, Args: args}})
			case BlockToolResult:
				parts = append(parts, geminiPart{FunctionResponse: &geminiFuncResponse{
					Name:     b.ToolResultForID,
					Response: map[string]any{"result": b.ToolResultText, "is_error": b.ToolResultError},
				}})
			}
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

func fromGeminiParts(parts []geminiPart) []ChatBlock {
	var blocks []ChatBlock
	for _, part := range parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, TextBlock(part.Text))
		case part.FunctionCall != nil:
			argsRaw, _ := json.Marshal(part.FunctionCall.Args)
			blocks = append(blocks, ToolCallBlock(part.FunctionCall.Name, part.FunctionCall.Name, argsRaw))
		}
	}
	return blocks
}

func fromGeminiFinishReason(reason string) StopReason {
	switch reason {
	case "STOP":
		return StopEndTurn
	case "MAX_TOKENS":
		return StopMaxToken
	case "":
		return StopUnknown
	default:
		return StopUnknown
	}
}
