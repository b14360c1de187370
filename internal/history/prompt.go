package history

// Message is a model-agnostic chat message.
type Message struct {
	Role    string
	Content string
}

// Recent keeps only the last n turns. n <= 0 keeps everything.
func Recent(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// Messages maps turns onto chat messages, preserving order.
func Messages(turns []Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := RoleUser
		if t.Role == RoleAssistant {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: t.Content})
	}
	return out
}

// WithoutCurrent drops the last turn when it is the user message being
// answered right now, so a prompt does not carry it twice.
func WithoutCurrent(turns []Turn, current string) []Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == RoleUser && turns[n-1].Content == current {
		return turns[:n-1]
	}
	return turns
}

// Assemble builds the final message list: system + history + user.
// An empty system prompt is omitted.
func Assemble(system string, history []Message, userMsg string) []Message {
	messages := make([]Message, 0, 1+len(history)+1)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userMsg})
	return messages
}
