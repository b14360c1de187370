package commander

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in, name, args string
	}{
		{"/ai проверьте почту", "ai", "проверьте почту"},
		{"/find@office_bot Иванов", "find", "Иванов"},
		{"/start", "start", ""},
		{"  /ASK  hello  ", "ask", "hello"},
		{"hello there", "", "hello there"},
		{"/rdp_add\nuser pass", "rdp_add", "user pass"},
	}
	for _, tc := range cases {
		name, args := ParseCommand(tc.in)
		assert.Equal(t, tc.name, name, tc.in)
		assert.Equal(t, tc.args, args, tc.in)
	}
}

func TestEventFromUpdate(t *testing.T) {
	text := "/ai hi"
	ev, ok := EventFromUpdate(Update{
		UpdateID: 5,
		Message: &Message{
			From: &User{ID: 42, Username: "alice"},
			Chat: Chat{ID: 100},
			Text: &text,
		},
	})
	assert.True(t, ok)
	assert.Equal(t, Event{
		UpdateID: 5, ChatID: 100, UserID: 42, Username: "alice",
		Text: "/ai hi", Command: "ai", Args: "hi",
	}, ev)

	_, ok = EventFromUpdate(Update{UpdateID: 6, Message: &Message{Chat: Chat{ID: 1}}})
	assert.False(t, ok)
	_, ok = EventFromUpdate(Update{UpdateID: 7})
	assert.False(t, ok)
}

func TestEventFromUpdate_NoSender(t *testing.T) {
	text := "hi"
	ev, ok := EventFromUpdate(Update{Message: &Message{Chat: Chat{ID: 1}, Text: &text}})
	assert.True(t, ok)
	assert.Zero(t, ev.UserID)
}
