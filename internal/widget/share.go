package widget

import (
	"fmt"
	"net/url"
	"strings"
)

// SessionParam is the URL query parameter that carries a shared session.
const SessionParam = "session_id"

// SessionIDFromURL returns the session id carried by pageURL, if any.
func SessionIDFromURL(pageURL string) string {
	if strings.TrimSpace(pageURL) == "" {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(SessionParam))
}

// WithSessionID returns pageURL with the session parameter set.
func WithSessionID(pageURL, sessionID string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("widget: parse page URL: %w", err)
	}
	q := u.Query()
	q.Set(SessionParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
