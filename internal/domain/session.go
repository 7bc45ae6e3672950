package domain

import "time"

// Session is the client-side snapshot of a server-tracked conversation.
type Session struct {
	SessionID       string
	AssistantID     string
	StartTime       time.Time
	LastMessageTime time.Time
	Messages        []Message
}
