// Package bot turns transport updates into handler calls: a command
// dispatcher modules register on, and the long-poll loop that feeds it.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
)

// ReplyInternalError is sent when a handler fails.
const ReplyInternalError = "Произошла ошибка, попробуйте позже."

// Dispatcher implements commander.Mux and routes events to the handler
// bound to their command, or to the plain-text handler.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]commander.Handler
	text     commander.Handler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		commands: map[string]commander.Handler{},
		log:      log.Named("dispatcher"),
	}
}

// Command binds /name to h. A later binding replaces an earlier one.
func (d *Dispatcher) Command(name string, h commander.Handler) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.commands[name]; exists {
		d.log.Warn("command rebound", zap.String("command", name))
	}
	d.commands[name] = h
}

// Text binds non-command messages to h.
func (d *Dispatcher) Text(h commander.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = h
}

// Commands returns the bound command names, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help lists the available commands.
func (d *Dispatcher) Help() string {
	var b strings.Builder
	b.WriteString("Доступные команды:")
	for _, name := range d.Commands() {
		b.WriteString("\n/")
		b.WriteString(name)
	}
	return b.String()
}

// Handle dispatches ev. Handler errors and panics are logged and turned
// into a generic reply.
func (d *Dispatcher) Handle(ctx context.Context, ev commander.Event) (reply string, err error) {
	h := d.lookup(ev)
	if h == nil {
		if ev.Command == "" {
			return "", nil
		}
		return d.Help(), nil
	}
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("handler panic",
				zap.String("command", ev.Command),
				zap.Int64("user_id", ev.UserID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			reply, err = ReplyInternalError, nil
		}
	}()
	reply, err = h(ctx, ev)
	if err != nil {
		d.log.Error("handler failed",
			zap.String("command", ev.Command),
			zap.Int64("user_id", ev.UserID),
			zap.Error(err))
		return ReplyInternalError, nil
	}
	return reply, nil
}

func (d *Dispatcher) lookup(ev commander.Event) commander.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if ev.Command == "" {
		return d.text
	}
	return d.commands[ev.Command]
}

// String is used in startup logs.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(%d commands)", len(d.Commands()))
}
