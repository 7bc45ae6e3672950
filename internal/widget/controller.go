// Package widget implements the chat widget's session controller: it
// resolves which session to continue, creates one lazily on the first user
// message, keeps the transcript in sync with the server through polling and
// persists a snapshot through the session store.
package widget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-widget/internal/config"
	"chat-widget/internal/domain"
	"chat-widget/internal/integrations/assistant"
	"chat-widget/internal/messagelog"
	"chat-widget/internal/retry"
)

const (
	rateLimitNotice  = "Please wait %d seconds before sending another message."
	sendFailedNotice = "Sorry, I'm having trouble responding right now. Please try again."
)

// Transport is the assistant API as seen by the controller.
type Transport interface {
	StartSession(ctx context.Context, message string) (assistant.StartResult, error)
	SendMessage(ctx context.Context, sessionID, message string) (string, error)
	FetchHistory(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)
}

// SessionStore persists the session snapshot.
type SessionStore interface {
	Save(ctx context.Context, sess domain.Session) bool
	Load(ctx context.Context) (domain.Session, bool)
	Clear(ctx context.Context) bool
	CookiesEnabled() bool
	EnableCookies(enabled bool)
}

type State int

const (
	StateNoSession State = iota
	StateSessionPending
	StateSessionActive
	StateSessionClosed
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateSessionPending:
		return "session_pending"
	case StateSessionActive:
		return "session_active"
	case StateSessionClosed:
		return "session_closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type PollState int

const (
	PollingStopped PollState = iota
	PollingActive
	PollingFailed
)

func (p PollState) String() string {
	switch p {
	case PollingStopped:
		return "stopped"
	case PollingActive:
		return "active"
	case PollingFailed:
		return "failed"
	default:
		return fmt.Sprintf("poll_state(%d)", int(p))
	}
}

// Controller owns one widget instance's session state and timers.
type Controller struct {
	cfg        config.Config
	transport  Transport
	store      SessionStore
	view       View
	consent    Consent
	log        *messagelog.Log
	logger     *zap.Logger
	now        func() time.Time
	startRetry retry.Config

	mu             sync.Mutex
	state          State
	sessionID      string
	startTime      time.Time
	epoch          uint64
	isFirstMessage bool
	limiter        *rate.Limiter

	pollState           PollState
	pollFailures        int
	connectionLostShown bool
	pollCancel          context.CancelFunc
	pollDone            chan struct{}

	loadingTimer *time.Timer
	loadingSeq   uint64
	loadingShown bool

	// persistMu orders session store writes. It is never acquired while
	// mu is held.
	persistMu    sync.Mutex
	pendingSave  *domain.Session
	pendingClear bool
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithConsent(consent Consent) Option {
	return func(c *Controller) {
		c.consent = consent
	}
}

// WithStartRetry overrides the backoff used when opening a session.
func WithStartRetry(cfg retry.Config) Option {
	return func(c *Controller) {
		c.startRetry = cfg
	}
}

// New validates cfg and builds a Controller. An invalid configuration is
// fatal: the widget refuses to initialize.
func New(cfg config.Config, transport Transport, store SessionStore, view View, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("widget: transport must not be nil")
	}
	if store == nil {
		return nil, errors.New("widget: session store must not be nil")
	}
	if view == nil {
		return nil, errors.New("widget: view must not be nil")
	}
	c := &Controller{
		cfg:            cfg,
		transport:      transport,
		store:          store,
		view:           view,
		log:            messagelog.New(),
		logger:         zap.NewNop(),
		now:            time.Now,
		startRetry:     retry.Config{Attempts: cfg.RetryAttempts, InitialDelay: cfg.RetryInitialDelay},
		isFirstMessage: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("widget_id", cfg.InstanceID))
	if c.startRetry.Logger == nil {
		c.startRetry.Logger = c.logger
	}
	c.limiter = c.newLimiter()
	return c, nil
}

func (c *Controller) newLimiter() *rate.Limiter {
	if c.cfg.MessageCooldown <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.cfg.MessageCooldown), 1)
}

// Init decides cookie use and resumes a session from pageURL's session_id
// parameter or from the session cookie, in that order. With neither, the
// session is created lazily by the first Send.
func (c *Controller) Init(ctx context.Context, pageURL string) error {
	c.mu.Lock()
	if c.state != StateNoSession && c.state != StateSessionClosed {
		c.mu.Unlock()
		return newError(ErrorAlreadyStarted, c.state.String(), nil)
	}
	epoch := c.epoch
	c.mu.Unlock()

	c.resolveCookies(ctx)

	if id := SessionIDFromURL(pageURL); id != "" {
		c.logger.Info("resuming session from URL", zap.String("session_id", id))
		return c.resume(ctx, epoch, id, c.now(), nil)
	}
	if c.store.CookiesEnabled() {
		if sess, ok := c.store.Load(ctx); ok {
			c.logger.Info("resuming session from cookies", zap.String("session_id", sess.SessionID))
			return c.resume(ctx, epoch, sess.SessionID, sess.StartTime, sess.Messages)
		}
	}

	c.logger.Debug("no existing session, will create on first user message")
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch {
		c.welcomeLocked()
	}
	return nil
}

func (c *Controller) resolveCookies(ctx context.Context) {
	switch {
	case !c.cfg.EnableCookies:
		c.store.EnableCookies(false)
	case !c.cfg.AskForCookies:
		c.store.EnableCookies(true)
	case c.store.CookiesEnabled():
	case c.consent == nil:
		c.store.EnableCookies(false)
	default:
		accepted, err := c.consent.AskForCookies(ctx)
		if err != nil {
			c.logger.Warn("cookie consent failed", zap.Error(err))
			accepted = false
		}
		c.store.EnableCookies(accepted)
	}
}

func (c *Controller) resume(ctx context.Context, epoch uint64, sessionID string, start time.Time, fallback []domain.Message) error {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.sessionID = sessionID
	c.startTime = start
	c.state = StateSessionActive
	c.mu.Unlock()

	history, err := c.transport.FetchHistory(ctx, sessionID)

	defer c.flushPersist(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	switch {
	case err == nil:
		c.mergeLocked(toMessages(history))
	case len(fallback) > 0:
		c.logger.Warn("failed to load session history, using stored messages",
			zap.String("session_id", sessionID), zap.Error(err))
		c.mergeLocked(fallback)
	default:
		c.logger.Warn("failed to load session history", zap.String("session_id", sessionID), zap.Error(err))
	}
	c.persistLocked()
	c.startPollingLocked()
	return nil
}

// Send submits a user message. The first message of a session opens it.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}

	c.mu.Lock()
	if c.state == StateSessionPending {
		c.mu.Unlock()
		return newError(ErrorSessionPending, "session_pending", nil)
	}
	if c.pollState == PollingFailed {
		c.mu.Unlock()
		return newError(ErrorConnectionLost, "input_disabled", nil)
	}
	now := c.now()
	if !c.limiter.AllowN(now, 1) {
		wait := c.cooldownSecondsLocked(now)
		c.addLocked(domain.Message{Content: fmt.Sprintf(rateLimitNotice, wait), Sender: domain.SenderBot}, true)
		c.mu.Unlock()
		return newError(ErrorRateLimited, fmt.Sprintf("wait_%ds", wait), nil)
	}

	c.addLocked(domain.Message{Content: text, Sender: domain.SenderUser}, false)

	payload := text
	if c.isFirstMessage {
		if block := FormatContext(c.cfg.ContextVariables); block != "" {
			payload += block
			c.logger.Debug("appending context variables to first message")
		}
		c.isFirstMessage = false
	}

	sessionID := c.sessionID
	epoch := c.epoch
	if sessionID == "" {
		c.state = StateSessionPending
	}
	c.startLoadingLocked()
	c.mu.Unlock()
	c.flushPersist(ctx)

	if sessionID == "" {
		return c.startSession(ctx, epoch, payload)
	}
	return c.continueSession(ctx, epoch, sessionID, payload)
}

func (c *Controller) cooldownSecondsLocked(now time.Time) int {
	tokens := c.limiter.TokensAt(now)
	remaining := time.Duration((1 - tokens) * float64(c.cfg.MessageCooldown)).Round(time.Millisecond)
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (c *Controller) startSession(ctx context.Context, epoch uint64, payload string) error {
	res, err := retry.Do(ctx, c.startRetry, "start_session", func(ctx context.Context) (assistant.StartResult, error) {
		return c.transport.StartSession(ctx, payload)
	})

	defer c.flushPersist(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return newError(ErrorSessionClosed, "closed_while_starting", err)
	}
	c.stopLoadingLocked()

	if err != nil {
		c.logger.Error("failed to start session", zap.Error(err))
		c.state = StateNoSession
		c.isFirstMessage = true
		c.addLocked(domain.Message{Content: sendFailedNotice, Sender: domain.SenderBot}, true)
		c.view.ShowInitError(err)
		return newError(ErrorStartFailed, "start_session_failed", err)
	}

	c.sessionID = res.SessionID
	c.startTime = c.now()
	c.state = StateSessionActive
	c.logger.Info("new session started", zap.String("session_id", res.SessionID))
	c.persistLocked()
	c.startPollingLocked()
	if res.Response != "" {
		c.addReplyLocked(domain.Message{Content: res.Response, Sender: domain.SenderBot})
	}
	return nil
}

func (c *Controller) continueSession(ctx context.Context, epoch uint64, sessionID, payload string) error {
	reply, err := c.transport.SendMessage(ctx, sessionID, payload)

	defer c.flushPersist(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return newError(ErrorSessionClosed, "closed_while_sending", err)
	}
	c.stopLoadingLocked()

	if err != nil {
		c.logger.Error("failed to send message after retries", zap.String("session_id", sessionID), zap.Error(err))
		c.addLocked(domain.Message{Content: sendFailedNotice, Sender: domain.SenderBot}, true)
		return newError(ErrorSendFailed, "send_message_failed", err)
	}
	c.addReplyLocked(domain.Message{Content: reply, Sender: domain.SenderBot})
	return nil
}

// addLocked appends to the log, renders, and persists stored messages.
func (c *Controller) addLocked(msg domain.Message, ephemeral bool) {
	c.log.Add(msg, ephemeral)
	c.view.ShowMessage(display(msg), ephemeral)
	if !ephemeral {
		c.persistLocked()
	}
}

// addReplyLocked adds a bot reply unless a poll already merged it while
// the request was in flight.
func (c *Controller) addReplyLocked(msg domain.Message) {
	if !c.log.AddUnique(msg) {
		c.logger.Debug("reply already merged from history")
		return
	}
	c.view.ShowMessage(display(msg), false)
	c.persistLocked()
}

func (c *Controller) mergeLocked(msgs []domain.Message) {
	added := c.log.Merge(msgs)
	for _, m := range added {
		c.view.ShowMessage(display(m), false)
	}
	if len(added) > 0 {
		c.persistLocked()
	}
}

// persistLocked queues a snapshot of the current session for flushPersist.
func (c *Controller) persistLocked() {
	if c.sessionID == "" {
		return
	}
	snapshot := domain.Session{
		SessionID:       c.sessionID,
		AssistantID:     c.cfg.AssistantID,
		StartTime:       c.startTime,
		LastMessageTime: c.now(),
	}
	if c.cfg.EnableViewHistory {
		snapshot.Messages = c.log.Tail(c.cfg.MaxStoredMessages)
	}
	c.pendingSave = &snapshot
}

// flushPersist writes the latest queued snapshot, or clears the stored
// session, outside mu. Writes started for a session are allowed to finish
// even when ctx is cancelled.
func (c *Controller) flushPersist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snapshot, clearStored := c.pendingSave, c.pendingClear
	c.pendingSave, c.pendingClear = nil, false
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if clearStored {
		c.store.Clear(ctx)
	}
	if snapshot != nil {
		c.store.Save(ctx, *snapshot)
	}
}

func (c *Controller) welcomeLocked() {
	if c.cfg.WelcomeMessage != "" {
		c.addLocked(domain.Message{Content: c.cfg.WelcomeMessage, Sender: domain.SenderBot}, false)
	}
}

func (c *Controller) startLoadingLocked() {
	c.stopLoadingLocked()
	seq := c.loadingSeq
	c.loadingTimer = time.AfterFunc(c.cfg.LoadingDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.loadingSeq != seq || c.loadingTimer == nil {
			return
		}
		c.loadingShown = true
		c.view.ShowLoading()
	})
}

func (c *Controller) stopLoadingLocked() {
	if c.loadingTimer != nil {
		c.loadingTimer.Stop()
		c.loadingTimer = nil
	}
	c.loadingSeq++
	if c.loadingShown {
		c.loadingShown = false
		c.view.HideLoading()
	}
}

// NewChat drops the current session and starts over with the welcome
// message. The next Send opens a fresh session.
func (c *Controller) NewChat(ctx context.Context) {
	c.reset(ctx, StateNoSession, true)
}

// Close ends the current session and forgets it.
func (c *Controller) Close(ctx context.Context) {
	c.reset(ctx, StateSessionClosed, false)
}

func (c *Controller) reset(ctx context.Context, next State, welcome bool) {
	c.mu.Lock()
	done := c.stopPollingLocked()
	c.stopLoadingLocked()

	c.epoch++
	c.sessionID = ""
	c.startTime = time.Time{}
	c.log.Reset()
	c.pendingSave = nil
	c.pendingClear = true
	c.limiter = c.newLimiter()
	c.pollFailures = 0
	c.pollState = PollingStopped
	if c.connectionLostShown {
		c.connectionLostShown = false
		c.view.HideConnectionLost()
	}
	c.isFirstMessage = true
	c.state = next

	c.view.Reset()
	c.view.SetInputEnabled(true)
	if welcome {
		c.welcomeLocked()
	}
	c.mu.Unlock()
	c.flushPersist(ctx)

	if done != nil {
		<-done
	}
}

// Stop tears down timers without touching the session, e.g. when the host
// page goes away.
func (c *Controller) Stop() {
	c.mu.Lock()
	done := c.stopPollingLocked()
	c.stopLoadingLocked()
	if c.pollState == PollingActive {
		c.pollState = PollingStopped
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// StartQuestions returns the configured canned prompts until the visitor
// sends a first message.
func (c *Controller) StartQuestions() []config.StartQuestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startQuestionsLocked()
}

func (c *Controller) startQuestionsLocked() []config.StartQuestion {
	for _, e := range c.log.Messages() {
		if e.Sender == domain.SenderUser && !e.Ephemeral {
			return nil
		}
	}
	var out []config.StartQuestion
	for _, q := range c.cfg.StartQuestions {
		if q.Display == "" || q.Prompt == "" {
			c.logger.Warn("invalid start question", zap.String("display", q.Display))
			continue
		}
		out = append(out, q)
	}
	return out
}

// AskStartQuestion sends the prompt of the i-th start question.
func (c *Controller) AskStartQuestion(ctx context.Context, i int) error {
	qs := c.StartQuestions()
	if i < 0 || i >= len(qs) {
		return newError(ErrorInvalidInput, "unknown_start_question", nil)
	}
	return c.Send(ctx, qs[i].Prompt)
}

// ShareURL returns pageURL pointing at the current session.
func (c *Controller) ShareURL(pageURL string) (string, error) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if !c.cfg.EnableSharing {
		return "", newError(ErrorSharingDisabled, "sharing_disabled", nil)
	}
	if id == "" {
		return "", newError(ErrorNoSession, "no_session_to_share", nil)
	}
	return WithSessionID(pageURL, id)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) PollState() PollState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollState
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns the transcript, ephemeral notices included.
func (c *Controller) Messages() []messagelog.Entry {
	return c.log.Messages()
}

func display(msg domain.Message) domain.Message {
	msg.Content = StripContext(msg.Content)
	return msg
}

// toMessages converts server history, dropping context blocks so the first
// message matches its locally added copy.
func toMessages(history []domain.HistoryMessage) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, h := range history {
		m := h.ToMessage()
		m.Content = StripContext(m.Content)
		out = append(out, m)
	}
	return out
}
