package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	cmdpkg "github.com/stupiduntilnot/officebot/internal/commander"
)

// MaxMessageChars is Telegram's per-message text limit.
const MaxMessageChars = 4096

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). requestTimeout must
// exceed the long-poll timeout.
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

// GetUpdates calls the getUpdates API. Every update is returned, including
// ones without a message, so the caller can acknowledge its update_id.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	tgResp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}

	var updates []Update
	if err := json.Unmarshal(tgResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage sends one message. Callers split long replies with
// SplitText first.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("marshal sendMessage payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, tgResp.Description)
	}
	return &tgResp, nil
}

// SplitText cuts text into chunks of at most limit runes, preferring to
// break after a newline. Empty text yields no chunks.
func SplitText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
