// Package session persists the widget's session snapshot in a cookie.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"chat-widget/internal/domain"
)

const (
	DefaultSessionExpiry = 720 * time.Minute
	DefaultCookieExpiry  = 20160 * time.Minute
)

// CookieStore is the cookie.Store surface used here.
type CookieStore interface {
	Get(ctx context.Context, name string) (string, bool)
	Set(ctx context.Context, name, value string, ttl time.Duration) bool
	Delete(ctx context.Context, name string) bool
	Enabled() bool
	SetEnabled(enabled bool)
}

// Options configure a Store.
type Options struct {
	InstanceID    string
	AssistantID   string
	SessionExpiry time.Duration
	CookieExpiry  time.Duration
	AutoSave      bool
	Logger        *zap.Logger
	Now           func() time.Time
}

// cookieSession is the persisted JSON shape. Times are epoch milliseconds.
type cookieSession struct {
	SessionID       string           `json:"sessionId"`
	StartTime       int64            `json:"startTime"`
	LastMessageTime int64            `json:"lastMessageTime"`
	AssistantID     string           `json:"assistantId"`
	Messages        []domain.Message `json:"messages"`
}

// Store saves and loads a single session snapshot per widget instance.
type Store struct {
	cookies CookieStore
	name    string
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewStore(cookies CookieStore, opts Options) (*Store, error) {
	if cookies == nil {
		return nil, errors.New("session: cookie store must not be nil")
	}
	opts.InstanceID = strings.TrimSpace(opts.InstanceID)
	if opts.InstanceID == "" {
		return nil, errors.New("session: instance id must not be empty")
	}
	if strings.TrimSpace(opts.AssistantID) == "" {
		return nil, errors.New("session: assistant id must not be empty")
	}
	if opts.SessionExpiry <= 0 {
		opts.SessionExpiry = DefaultSessionExpiry
	}
	if opts.CookieExpiry <= 0 {
		opts.CookieExpiry = DefaultCookieExpiry
	}
	s := &Store{
		cookies: cookies,
		name:    CookieName(opts.InstanceID),
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CookieName returns the cookie that holds an instance's session.
func CookieName(instanceID string) string {
	return "chatbot_" + instanceID + "_session"
}

func (s *Store) CookiesEnabled() bool {
	return s.cookies.Enabled()
}

func (s *Store) EnableCookies(enabled bool) {
	s.cookies.SetEnabled(enabled)
}

// Save writes the snapshot. It reports false without writing when cookies
// are disabled, the session has no id, or auto-save is off.
func (s *Store) Save(ctx context.Context, sess domain.Session) bool {
	if !s.cookies.Enabled() || sess.SessionID == "" || !s.opts.AutoSave {
		return false
	}
	msgs := sess.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	raw, err := json.Marshal(cookieSession{
		SessionID:       sess.SessionID,
		StartTime:       sess.StartTime.UnixMilli(),
		LastMessageTime: sess.LastMessageTime.UnixMilli(),
		AssistantID:     sess.AssistantID,
		Messages:        msgs,
	})
	if err != nil {
		s.logger.Warn("could not encode session", zap.String("session_id", sess.SessionID), zap.Error(err))
		return false
	}
	return s.cookies.Set(ctx, s.name, string(raw), s.opts.CookieExpiry)
}

// Load returns the persisted session if it is still valid for this
// assistant. Corrupt, expired and foreign sessions are deleted.
func (s *Store) Load(ctx context.Context) (domain.Session, bool) {
	raw, ok := s.cookies.Get(ctx, s.name)
	if !ok {
		return domain.Session{}, false
	}

	var cs cookieSession
	if err := json.Unmarshal([]byte(raw), &cs); err != nil || cs.SessionID == "" {
		s.logger.Warn("invalid session data in cookie", zap.String("cookie", s.name), zap.Error(err))
		s.cookies.Delete(ctx, s.name)
		return domain.Session{}, false
	}

	start := time.UnixMilli(cs.StartTime)
	if s.now().Sub(start) > s.opts.SessionExpiry {
		s.logger.Debug("session expired", zap.String("session_id", cs.SessionID), zap.Time("start_time", start))
		s.cookies.Delete(ctx, s.name)
		return domain.Session{}, false
	}
	if cs.AssistantID != s.opts.AssistantID {
		s.logger.Debug("session belongs to another assistant",
			zap.String("session_id", cs.SessionID),
			zap.String("assistant_id", cs.AssistantID))
		s.cookies.Delete(ctx, s.name)
		return domain.Session{}, false
	}

	return domain.Session{
		SessionID:       cs.SessionID,
		AssistantID:     cs.AssistantID,
		StartTime:       start,
		LastMessageTime: time.UnixMilli(cs.LastMessageTime),
		Messages:        cs.Messages,
	}, true
}

// Clear deletes the cookie when cookies are enabled.
func (s *Store) Clear(ctx context.Context) bool {
	if !s.cookies.Enabled() {
		return false
	}
	return s.cookies.Delete(ctx, s.name)
}
