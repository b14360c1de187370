package commander

import "strings"

// ParseCommand splits "/name@bot rest" into ("name", "rest"). Text that
// does not start with a slash yields an empty command and the trimmed
// text as args.
func ParseCommand(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}
	head = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
