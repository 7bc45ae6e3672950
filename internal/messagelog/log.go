// Package messagelog holds the ordered, de-duplicated transcript of a widget.
//
// Merging server history uses two keys: a message whose ID was already seen
// is skipped, and a message without a known ID is skipped when a stored
// entry already has the same content and sender. The second rule absorbs
// history echoes of messages that were added locally before the server
// assigned them an ID.
package messagelog

import (
	"sync"

	"chat-widget/internal/domain"
)

// Entry is a transcript line. Ephemeral entries are shown but never
// persisted nor matched during merges.
type Entry struct {
	domain.Message
	Ephemeral bool
}

type contentKey struct {
	content string
	sender  domain.Sender
}

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	seenIDs map[string]struct{}
	stored  map[contentKey]struct{}
}

func New() *Log {
	return &Log{
		seenIDs: make(map[string]struct{}),
		stored:  make(map[contentKey]struct{}),
	}
}

// Add appends a message unconditionally. A non-empty ID is recorded as seen.
func (l *Log) Add(msg domain.Message, ephemeral bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(msg, ephemeral)
}

func (l *Log) appendLocked(msg domain.Message, ephemeral bool) {
	l.entries = append(l.entries, Entry{Message: msg, Ephemeral: ephemeral})
	if ephemeral {
		return
	}
	if msg.ID != "" {
		l.seenIDs[msg.ID] = struct{}{}
	}
	l.stored[contentKey{content: msg.Content, sender: msg.Sender}] = struct{}{}
}

// AddUnique appends a stored message unless the same server ID or the same
// content from the same sender is already present. It reports whether the
// message was added.
func (l *Log) AddUnique(msg domain.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.containsLocked(msg) {
		return false
	}
	l.appendLocked(msg, false)
	return true
}

func (l *Log) containsLocked(msg domain.Message) bool {
	if msg.ID != "" {
		if _, ok := l.seenIDs[msg.ID]; ok {
			return true
		}
	}
	_, ok := l.stored[contentKey{content: msg.Content, sender: msg.Sender}]
	return ok
}

// Merge appends the server messages that are not already present and
// returns them in server order.
func (l *Log) Merge(incoming []domain.Message) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var added []domain.Message
	for _, msg := range incoming {
		if l.containsLocked(msg) {
			continue
		}
		l.appendLocked(msg, false)
		added = append(added, msg)
	}
	return added
}

// Messages returns a copy of every entry, ephemeral ones included.
func (l *Log) Messages() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns up to n of the most recent stored messages.
func (l *Log) Tail(n int) []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]domain.Message, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		if l.entries[i].Ephemeral {
			continue
		}
		out = append(out, l.entries[i].Message)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Reset drops every entry and forgets all seen IDs.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.seenIDs = make(map[string]struct{})
	l.stored = make(map[contentKey]struct{})
}
