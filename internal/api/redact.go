package api

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maxAuthMessageLen caps the length of auth failure messages surfaced to
// callers, keeping log lines and UI text bounded no matter what the upstream
// sends back.
const maxAuthMessageLen = 160

// queryPattern matches the query string of any URL embedded in error text.
// Transport errors include the full request URL, which carries the API key
// and the raw coordinates.
var queryPattern = regexp.MustCompile(`\?[^\s"']+`)

// redact makes arbitrary upstream or transport text safe to log: embedded
// query strings are dropped wholesale, bare occurrences of the API key are
// masked, and invalid UTF-8 is replaced rather than propagated.
func redact(s, apiKey string) string {
	s = strings.ToValidUTF8(s, "�")
	s = queryPattern.ReplaceAllString(s, "?***")
	if apiKey != "" {
		s = strings.ReplaceAll(s, apiKey, "***")
	}
	return s
}

// authMessage extracts a short, safe explanation from an auth failure body.
//
// The upstream usually answers with {"error": {"message": ...}}; some
// variants put the message at the top level, and misconfigured proxies may
// return plain text or garbage bytes. All of these are tolerated: the text
// is redacted first, then parsed, and the raw (redacted) text is the
// fallback. The result is truncated to keep messages displayable.
func (c *Client) authMessage(body []byte) string {
	text := redact(string(body), c.apiKey)

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}

	msg := ""
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		msg = strings.TrimSpace(payload.Error.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Message)
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(text)
	}
	return truncate(msg, maxAuthMessageLen)
}

// truncate shortens s to at most n runes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
