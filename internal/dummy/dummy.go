// Package dummy provides a scripted transport and model provider for
// offline runs and tests.
//
// A script is a comma-separated list of actions consumed one per call;
// the last action repeats once the script is exhausted:
//
//	ok            nothing to deliver / plain success
//	err:<class>   fail with an error naming class
//	sleep:<ms>    pause, then succeed
//	msg:<text>    deliver text (commander) or answer text (provider)
//	msgb64:<b64>  like msg, base64-encoded (for commas in text)
//	tool:<name>   provider only: answer with a tool call to name
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64", "tool"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found || !validKind(kind) {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, action{kind: kind, arg: arg})
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

func validKind(kind string) bool {
	for _, k := range actionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func (a action) text() (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sleepArg(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	return sleepCtx(ctx, time.Duration(ms)*time.Millisecond)
}

// Sent is one message delivered through the dummy commander.
type Sent struct {
	ChatID int64
	Text   string
}

// Commander is a scripted commander.Commander. Messages appear to come
// from one user in one private chat.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	userID   int64
	updateID int64
	sent     []Sent
}

func NewCommander(pollScript, sendScript string, userID int64) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, userID: userID, updateID: 1}, nil
}

// GetUpdates plays the next poll action. "ok" behaves like an empty long
// poll: it waits for timeout seconds or until ctx is done.
func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "transport_api"))
	case "sleep":
		return nil, sleepArg(ctx, a.arg)
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return nil, fmt.Errorf("dummy commander: %w", err)
		}
		c.mu.Lock()
		c.updateID++
		id := c.updateID
		c.mu.Unlock()
		return []cmdpkg.Update{{
			UpdateID: id,
			Message: &cmdpkg.Message{
				MessageID: id,
				From:      &cmdpkg.User{ID: c.userID, Username: "dummy"},
				Chat:      cmdpkg.Chat{ID: c.userID},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		}}, nil
	default:
		if err := sleepCtx(ctx, time.Duration(timeout)*time.Second); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// SendMessage plays the next send action and records successful sends.
func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "transport_api"))
	case "sleep":
		if err := sleepArg(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text})
	return nil
}

// Sent returns a copy of the delivered messages.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Provider is a scripted model.Provider.
type Provider struct {
	mu     sync.Mutex
	script *scriptRunner
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) Complete(ctx context.Context, _ model.Request) (model.Completion, error) {
	p.mu.Lock()
	a := p.script.next()
	p.mu.Unlock()

	resp := model.Completion{InputTokens: 1, OutputTokens: 1}
	switch a.kind {
	case "err":
		return model.Completion{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleepArg(ctx, a.arg); err != nil {
			return model.Completion{}, err
		}
		resp.Content = "dummy-after-sleep"
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return model.Completion{}, fmt.Errorf("dummy provider: %w", err)
		}
		resp.Content = text
	case "tool":
		resp.ToolCall = &model.ToolCall{Name: a.arg, Arguments: "{}"}
	default:
		resp.Content = "dummy-ok"
	}
	return resp, nil
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
