package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wallet-agent/pkg/config"
	"github.com/wallet-agent/pkg/provider"
)

// ToolDef describes one callable tool to the model: name, description, and a
// JSON-schema parameter object.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Message is the provider-neutral conversation unit. Role "tool" carries a
// serialized tool result back to the model.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Text       string
	ToolCalls  []ToolCall // assistant turns that requested tools
	ToolCallID string     // set on "tool" role
	ToolName   string
}

// TurnResponse is one model turn: free text, tool calls, or both. A turn with
// no tool calls is the final answer.
type TurnResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// LLMClient abstracts the function-calling model API so the orchestrator can
// run against any provider offering that shape.
type LLMClient interface {
	Complete(ctx context.Context, system string, msgs []Message, tools []ToolDef) (*TurnResponse, error)
}

// Client talks to Anthropic, OpenAI, or a local Ollama over raw HTTP.
type Client struct {
	client *http.Client

	provider   string // "anthropic", "openai", "ollama"
	apiKey     string
	model      string
	apiBaseURL string
	maxTokens  int
}

func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{
		client:    &http.Client{Timeout: 120 * time.Second},
		maxTokens: cfg.AIMaxTokens,
	}

	prov := cfg.AIProvider
	if prov == "" {
		// Auto-detect from available credentials
		switch {
		case cfg.AnthropicAPIKey != "":
			prov = "anthropic"
		case cfg.OpenAIAPIKey != "":
			prov = "openai"
		case cfg.OllamaURL != "":
			prov = "ollama"
		}
	}

	switch prov {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("AI_PROVIDER=anthropic but ANTHROPIC_API_KEY is empty")
		}
		c.provider = "anthropic"
		c.apiKey = cfg.AnthropicAPIKey
		c.model = modelOr(cfg.AIModel, "claude-sonnet-4-20250514")
		c.apiBaseURL = "https://api.anthropic.com/v1/messages"
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("AI_PROVIDER=openai but OPENAI_API_KEY is empty")
		}
		c.provider = "openai"
		c.apiKey = cfg.OpenAIAPIKey
		c.model = modelOr(cfg.AIModel, "gpt-4o")
		c.apiBaseURL = "https://api.openai.com/v1/chat/completions"
	case "ollama":
		if cfg.OllamaURL == "" {
			return nil, fmt.Errorf("AI_PROVIDER=ollama but OLLAMA_URL is empty")
		}
		c.provider = "ollama"
		c.model = modelOr(cfg.AIModel, "llama3.1")
		c.apiBaseURL = cfg.OllamaURL + "/api/chat"
	default:
		return nil, fmt.Errorf("no AI provider configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, or OLLAMA_URL")
	}

	log.Info().Str("provider", c.provider).Str("model", c.model).Msg("🤖 model client initialized")
	return c, nil
}

func (c *Client) Complete(ctx context.Context, system string, msgs []Message, tools []ToolDef) (*TurnResponse, error) {
	switch c.provider {
	case "anthropic":
		return c.completeAnthropic(ctx, system, msgs, tools)
	case "openai":
		return c.completeOpenAI(ctx, system, msgs, tools)
	case "ollama":
		return c.completeOllama(ctx, system, msgs, tools)
	default:
		return nil, fmt.Errorf("no AI provider configured")
	}
}

// ============================================================================
// ANTHROPIC (messages API, content blocks)
// ============================================================================

func (c *Client) completeAnthropic(ctx context.Context, system string, msgs []Message, tools []ToolDef) (*TurnResponse, error) {
	var apiTools []map[string]interface{}
	for _, t := range tools {
		apiTools = append(apiTools, map[string]interface{}{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Schema,
		})
	}

	var apiMsgs []map[string]interface{}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			var blocks []map[string]interface{}
			if m.Text != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": m.Text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Arguments,
				})
			}
			apiMsgs = append(apiMsgs, map[string]interface{}{"role": "assistant", "content": blocks})
		case "tool":
			apiMsgs = append(apiMsgs, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Text,
				}},
			})
		default:
			apiMsgs = append(apiMsgs, map[string]interface{}{"role": "user", "content": m.Text})
		}
	}

	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     system,
		"messages":   apiMsgs,
	}
	if len(apiTools) > 0 {
		reqBody["tools"] = apiTools
	}

	respBody, err := c.post(ctx, reqBody, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Type  string                 `json:"type"`
			Text  string                 `json:"text"`
			ID    string                 `json:"id"`
			Name  string                 `json:"name"`
			Input map[string]interface{} `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	turn := &TurnResponse{}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			turn.Text += block.Text
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return turn, nil
}

// ============================================================================
// OPENAI (chat completions, tool_calls)
// ============================================================================

func (c *Client) completeOpenAI(ctx context.Context, system string, msgs []Message, tools []ToolDef) (*TurnResponse, error) {
	apiMsgs := []map[string]interface{}{
		{"role": "system", "content": system},
	}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			entry := map[string]interface{}{"role": "assistant", "content": m.Text}
			if len(m.ToolCalls) > 0 {
				var calls []map[string]interface{}
				for _, tc := range m.ToolCalls {
					args, _ := json.Marshal(tc.Arguments)
					calls = append(calls, map[string]interface{}{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]interface{}{
							"name":      tc.Name,
							"arguments": string(args),
						},
					})
				}
				entry["tool_calls"] = calls
			}
			apiMsgs = append(apiMsgs, entry)
		case "tool":
			apiMsgs = append(apiMsgs, map[string]interface{}{
				"role":         "tool",
				"tool_call_id": m.ToolCallID,
				"content":      m.Text,
			})
		default:
			apiMsgs = append(apiMsgs, map[string]interface{}{"role": "user", "content": m.Text})
		}
	}

	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages":   apiMsgs,
	}
	if len(tools) > 0 {
		reqBody["tools"] = openAITools(tools)
	}

	respBody, err := c.post(ctx, reqBody, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("empty response from openai")
	}

	msg := result.Choices[0].Message
	turn := &TurnResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{}
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return turn, nil
}

// ============================================================================
// OLLAMA (local, OpenAI-shaped tools)
// ============================================================================

func (c *Client) completeOllama(ctx context.Context, system string, msgs []Message, tools []ToolDef) (*TurnResponse, error) {
	apiMsgs := []map[string]interface{}{
		{"role": "system", "content": system},
	}
	for _, m := range msgs {
		role := m.Role
		if role == "tool" {
			apiMsgs = append(apiMsgs, map[string]interface{}{"role": "tool", "content": m.Text})
			continue
		}
		apiMsgs = append(apiMsgs, map[string]interface{}{"role": role, "content": m.Text})
	}

	reqBody := map[string]interface{}{
		"model":    c.model,
		"messages": apiMsgs,
		"stream":   false,
	}
	if len(tools) > 0 {
		reqBody["tools"] = openAITools(tools)
	}

	respBody, err := c.post(ctx, reqBody, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string                 `json:"name"`
					Arguments map[string]interface{} `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	turn := &TurnResponse{Text: result.Message.Content}
	for i, tc := range result.Message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return turn, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (c *Client) post(ctx context.Context, reqBody map[string]interface{}, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.apiBaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &provider.RateLimitedError{Provider: c.provider}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.APIError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Message:  string(respBody),
		}
	}
	return respBody, nil
}

func openAITools(tools []ToolDef) []map[string]interface{} {
	var out []map[string]interface{}
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}
	return out
}

func modelOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
