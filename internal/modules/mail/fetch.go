package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Message is one fetched mail message.
type Message struct {
	Subject string
	From    string
	Date    time.Time
	Body    string
}

// Fetcher returns up to limit messages, newest first.
type Fetcher interface {
	Fetch(ctx context.Context, limit int) ([]Message, error)
}

// DirFetcher reads RFC 5322 messages saved as *.eml files in a
// directory, e.g. a mailbox exported by a delivery agent.
type DirFetcher struct {
	Dir string
}

func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{Dir: dir}
}

func (f *DirFetcher) Fetch(ctx context.Context, limit int) ([]Message, error) {
	paths, err := filepath.Glob(filepath.Join(f.Dir, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("list mail dir: %w", err)
	}
	var out []Message
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := readMessageFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func readMessageFile(path string) (Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return Message{}, fmt.Errorf("open message: %w", err)
	}
	defer f.Close()
	msg, err := ParseMessage(f)
	if err != nil {
		return Message{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if msg.Date.IsZero() {
		if st, err := f.Stat(); err == nil {
			msg.Date = st.ModTime()
		}
	}
	return msg, nil
}

var wordDecoder = mime.WordDecoder{}

// ParseMessage reads one message and extracts its plain-text body.
func ParseMessage(r io.Reader) (Message, error) {
	m, err := netmail.ReadMessage(r)
	if err != nil {
		return Message{}, err
	}
	out := Message{
		Subject: decodeHeader(m.Header.Get("Subject")),
		From:    decodeHeader(m.Header.Get("From")),
	}
	if addr, err := netmail.ParseAddress(m.Header.Get("From")); err == nil {
		out.From = addr.Address
		if addr.Name != "" {
			out.From = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
		}
	}
	if d, err := m.Header.Date(); err == nil {
		out.Date = d
	}
	body, err := textBody(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return Message{}, err
	}
	out.Body = strings.TrimSpace(body)
	return out, nil
}

func decodeHeader(v string) string {
	dec, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return dec
}

// textBody returns the first text/plain part, falling back to the first
// text part of any kind.
func textBody(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		var fallback string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return fallback, nil
			}
			if err != nil {
				return "", fmt.Errorf("read multipart: %w", err)
			}
			text, err := textBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			pt, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if pt == "text/plain" || pt == "" {
				return text, nil
			}
			if fallback == "" {
				fallback = text
			}
		}
	}
	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}
	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}
