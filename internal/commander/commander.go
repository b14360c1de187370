// Package commander holds the chat-platform abstraction: the update
// source the bot polls and the handler shapes modules register with.
package commander

import "context"

// Commander is the instruction source the poller reads from and replies to.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// User is the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Event is one normalized inbound message as seen by handlers.
type Event struct {
	UpdateID int64
	ChatID   int64
	UserID   int64
	Username string
	// Text is the full message text, command prefix included.
	Text string
	// Command is the command name without slash or @bot suffix; empty
	// for plain text.
	Command string
	// Args is the text after the command word.
	Args string
}

// EventFromUpdate normalizes an update. ok is false for updates that
// carry no text message.
func EventFromUpdate(u Update) (Event, bool) {
	if u.Message == nil || u.Message.Text == nil {
		return Event{}, false
	}
	ev := Event{
		UpdateID: u.UpdateID,
		ChatID:   u.Message.Chat.ID,
		Text:     *u.Message.Text,
	}
	if u.Message.From != nil {
		ev.UserID = u.Message.From.ID
		ev.Username = u.Message.From.Username
	}
	ev.Command, ev.Args = ParseCommand(ev.Text)
	return ev, true
}

// Handler answers an event. The returned text is sent back to the
// chat; an empty reply sends nothing.
type Handler func(ctx context.Context, ev Event) (string, error)

// Mux is where modules register their entry points during initialization.
type Mux interface {
	// Command binds /name to h.
	Command(name string, h Handler)
	// Text binds plain (non-command) messages to h.
	Text(h Handler)
}
