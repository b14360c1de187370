package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stupiduntilnot/officebot/internal/model"
)

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates an OpenAI client. baseURL is the API root, e.g.
// "https://api.openai.com/v1".
func NewClient(apiKey, baseURL, modelName string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    strings.TrimRight(baseURL, "/") + "/chat/completions",
		model:  modelName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature float32    `json:"temperature,omitempty"`
	Tools       []toolSpec `json:"tools,omitempty"`
	ToolChoice  string     `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends a chat completion request. When tools are offered and
// the model picks one, the first tool call is returned in ToolCall.
func (c *Client) Complete(ctx context.Context, r model.Request) (model.Completion, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    make([]Message, 0, len(r.Messages)),
		Temperature: r.Temperature,
	}
	for _, m := range r.Messages {
		reqBody.Messages = append(reqBody.Messages, Message(m))
	}
	for _, t := range r.Tools {
		reqBody.Tools = append(reqBody.Tools, toolSpec{
			Type:     "function",
			Function: functionSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(reqBody.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return model.Completion{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.Completion{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Completion{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Completion{}, fmt.Errorf("failed reading openai response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := truncate(string(body), 400)
		return model.Completion{}, fmt.Errorf("openai non-success status=%d body=%s", resp.StatusCode, truncated)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		truncated := truncate(string(body), 400)
		return model.Completion{}, fmt.Errorf("failed to parse openai response: %s", truncated)
	}

	result := model.Completion{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return result, nil
	}
	msg := parsed.Choices[0].Message
	result.Content = strings.TrimSpace(msg.Content)
	if len(msg.ToolCalls) > 0 {
		fn := msg.ToolCalls[0].Function
		result.ToolCall = &model.ToolCall{Name: fn.Name, Arguments: fn.Arguments}
	}
	return result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
