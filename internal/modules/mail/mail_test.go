package mail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/model"
)

type fakeLLM struct {
	resp model.Completion
	err  error
	reqs []model.Request
}

func (f *fakeLLM) Complete(_ context.Context, req model.Request) (model.Completion, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type staticFetcher struct {
	msgs  []Message
	err   error
	limit int
}

func (f *staticFetcher) Fetch(_ context.Context, limit int) ([]Message, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > limit {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

type mailMux struct{ mail commander.Handler }

func (m *mailMux) Command(name string, h commander.Handler) {
	if name == "mail" {
		m.mail = h
	}
}

func (m *mailMux) Text(commander.Handler) {}

func initMux(t *testing.T, m *Module) *mailMux {
	t.Helper()
	mux := &mailMux{}
	require.NoError(t, m.Initialize(mux))
	require.NotNil(t, mux.mail)
	return mux
}

func TestProcess_Help(t *testing.T) {
	m := New(nil, nil, zaptest.NewLogger(t), Options{})
	reply, err := m.Process(context.Background(), 1, "проверь почту")
	require.NoError(t, err)
	assert.Equal(t, ReplyHelp, reply)
	assert.Equal(t, []string{"fetch_mail", "analyze_mail"}, m.Capabilities())
}

func TestSummarize_WithoutLLM(t *testing.T) {
	m := New(nil, nil, zaptest.NewLogger(t), Options{})
	ctx := context.Background()
	assert.Equal(t, "Письмо от boss@example.com с темой 'Отчёт'.",
		m.Summarize(ctx, Message{Subject: "Отчёт", From: "boss@example.com"}))
	assert.Equal(t, "Письмо от (неизвестно) с темой '(без темы)'.", m.Summarize(ctx, Message{}))
}

func TestSummarize_WithLLM(t *testing.T) {
	llm := &fakeLLM{resp: model.Completion{Content: " Срочно: отчёт к пятнице. "}}
	m := New(nil, llm, zaptest.NewLogger(t), Options{})

	body := strings.Repeat("я", 5000)
	got := m.Summarize(context.Background(), Message{Subject: "Отчёт", From: "boss@example.com", Body: body})
	assert.Equal(t, "Срочно: отчёт к пятнице.", got)

	require.Len(t, llm.reqs, 1)
	msgs := llm.reqs[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, analyzePrompt, msgs[0].Content)
	prefix := "Тема: Отчёт\nОтправитель: boss@example.com\nТекст: "
	require.True(t, strings.HasPrefix(msgs[1].Content, prefix))
	assert.Equal(t, maxBodyRunes, utf8.RuneCountInString(strings.TrimPrefix(msgs[1].Content, prefix)))
}

func TestSummarize_LLMFailure(t *testing.T) {
	m := New(nil, &fakeLLM{err: errors.New("boom")}, zaptest.NewLogger(t), Options{})
	assert.Equal(t, ReplyAnalyzeError, m.Summarize(context.Background(), Message{Subject: "x"}))

	m = New(nil, &fakeLLM{}, zaptest.NewLogger(t), Options{})
	assert.Equal(t, ReplyAnalyzeError, m.Summarize(context.Background(), Message{Subject: "x"}))
}

func TestMailCommand(t *testing.T) {
	ctx := context.Background()

	mux := initMux(t, New(nil, nil, zaptest.NewLogger(t), Options{}))
	reply, err := mux.mail(ctx, commander.Event{})
	require.NoError(t, err)
	assert.Equal(t, ReplyNoMail, reply)

	mux = initMux(t, New(&staticFetcher{}, nil, zaptest.NewLogger(t), Options{}))
	reply, err = mux.mail(ctx, commander.Event{})
	require.NoError(t, err)
	assert.Equal(t, ReplyNoMail, reply)

	mux = initMux(t, New(&staticFetcher{err: errors.New("refused")}, nil, zaptest.NewLogger(t), Options{}))
	reply, err = mux.mail(ctx, commander.Event{})
	require.NoError(t, err)
	assert.Equal(t, ReplyFetchError, reply)

	f := &staticFetcher{msgs: []Message{
		{Subject: "a", From: "x@example.com"},
		{Subject: "b", From: "y@example.com"},
	}}
	mux = initMux(t, New(f, nil, zaptest.NewLogger(t), Options{}))
	reply, err = mux.mail(ctx, commander.Event{Args: "9"})
	require.NoError(t, err)
	assert.Equal(t, maxMessages, f.limit)
	assert.Equal(t, "Письмо от x@example.com с темой 'a'.\n\nПисьмо от y@example.com с темой 'b'.", reply)

	reply, err = mux.mail(ctx, commander.Event{Args: "abc"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Формат")
}

const plainMessage = "From: =?utf-8?B?0JjQstCw0L0=?= <ivan@example.com>\r\n" +
	"Subject: =?utf-8?B?0J7RgtGH0ZHRgg==?=\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"=D0=9F=D1=80=D0=B8=D0=B2=D0=B5=D1=82\r\n"

const multipartMessage = "From: anna@example.com\r\n" +
	"Subject: Weekly\r\n" +
	"Date: Tue, 03 Jan 2006 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"cGxhaW4gYm9keQ==\r\n" +
	"--XYZ--\r\n"

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(strings.NewReader(plainMessage))
	require.NoError(t, err)
	assert.Equal(t, "Отчёт", msg.Subject)
	assert.Equal(t, "Иван <ivan@example.com>", msg.From)
	assert.Equal(t, "Привет", msg.Body)
	assert.Equal(t, 2006, msg.Date.Year())

	msg, err = ParseMessage(strings.NewReader(multipartMessage))
	require.NoError(t, err)
	assert.Equal(t, "Weekly", msg.Subject)
	assert.Equal(t, "anna@example.com", msg.From)
	assert.Equal(t, "plain body", msg.Body)
}

func TestDirFetcher_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.eml"), []byte(plainMessage), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.eml"), []byte(multipartMessage), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	msgs, err := NewDirFetcher(dir).Fetch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Weekly", msgs[0].Subject)
	assert.Equal(t, "Отчёт", msgs[1].Subject)

	msgs, err = NewDirFetcher(dir).Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = NewDirFetcher(filepath.Join(dir, "missing")).Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
