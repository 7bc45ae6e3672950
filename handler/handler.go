// Package handler is a line-oriented terminal front end for the widget: it
// renders controller output and turns typed lines into controller calls.
package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chat-widget/internal/config"
	"chat-widget/internal/domain"
	"chat-widget/internal/widget"
)

// Controller is the widget surface driven by the terminal.
type Controller interface {
	Send(ctx context.Context, text string) error
	NewChat(ctx context.Context)
	Close(ctx context.Context)
	RetryPolling()
	ShareURL(pageURL string) (string, error)
	StartQuestions() []config.StartQuestion
	AskStartQuestion(ctx context.Context, i int) error
}

const helpText = `commands:
  /new        start a new conversation
  /close      end the conversation
  /retry      reconnect after the connection was lost
  /share      print a link to this conversation
  /questions  list suggested questions
  /ask N      send suggested question N
  /quit       exit`

// Terminal implements widget.View on an io.Writer.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	phrases config.Phrases
	pageURL string
	logger  *zap.Logger
	ctrl    Controller

	inputEnabled bool
}

var _ widget.View = (*Terminal)(nil)

type Option func(*Terminal)

// WithPageURL sets the page a shared link points at.
func WithPageURL(pageURL string) Option {
	return func(t *Terminal) {
		t.pageURL = pageURL
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Terminal) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTerminal(out io.Writer, phrases config.Phrases, opts ...Option) (*Terminal, error) {
	if out == nil {
		return nil, errors.New("handler: output must not be nil")
	}
	t := &Terminal{out: out, phrases: phrases, logger: zap.NewNop(), inputEnabled: true}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Attach binds the controller that typed input is sent to. The controller
// is built with the Terminal as its view, hence the separate step.
func (t *Terminal) Attach(ctrl Controller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctrl = ctrl
}

func (t *Terminal) ShowMessage(msg domain.Message, ephemeral bool) {
	prefix := "bot> "
	if msg.Sender == domain.SenderUser {
		prefix = "you> "
	}
	if ephemeral {
		prefix = "! "
	}
	t.printf("%s%s\n", prefix, msg.Content)
}

func (t *Terminal) ShowLoading() {
	t.printf("... %s\n", t.phrases.Thinking)
}

func (t *Terminal) HideLoading() {}

func (t *Terminal) SetInputEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputEnabled = enabled
}

func (t *Terminal) ShowConnectionLost() {
	t.printf("Connection lost. Type /retry to reconnect.\n")
}

func (t *Terminal) HideConnectionLost() {
	t.printf("Reconnecting...\n")
}

func (t *Terminal) ShowInitError(err error) {
	t.printf("Could not start a conversation: %v\n", err)
}

func (t *Terminal) Reset() {
	t.printf("--- new conversation ---\n")
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		t.logger.Warn("terminal write failed", zap.Error(err))
	}
}

func (t *Terminal) controller() (Controller, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctrl, t.inputEnabled
}

// Run reads lines from in until EOF, /quit or ctx cancellation. Lines are
// read on a separate goroutine so cancellation is noticed while the reader
// is blocked; that goroutine exits once in returns EOF or an error.
func (t *Terminal) Run(ctx context.Context, in io.Reader) error {
	ctrl, _ := t.controller()
	if ctrl == nil {
		return errors.New("handler: no controller attached")
	}
	t.printf("%s (Enter to %s, /help for commands)\n", t.phrases.Placeholder, strings.ToLower(t.phrases.Send))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-lines:
			if !ok {
				return t.readResult(readErr)
			}
			if ctx.Err() != nil {
				return nil
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if quit := t.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (t *Terminal) readResult(readErr <-chan error) error {
	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("handler: read input: %w", err)
		}
	default:
	}
	return nil
}

func (t *Terminal) handle(ctx context.Context, line string) bool {
	ctrl, inputEnabled := t.controller()

	if !strings.HasPrefix(line, "/") {
		if !inputEnabled {
			t.printf("Input is disabled. Type /retry to reconnect.\n")
			return false
		}
		t.report(ctrl.Send(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		t.printf("%s\n", helpText)
	case "/new":
		ctrl.NewChat(ctx)
	case "/close":
		ctrl.Close(ctx)
		t.printf("--- %s ---\n", t.phrases.Close)
	case "/retry":
		ctrl.RetryPolling()
	case "/share":
		link, err := ctrl.ShareURL(t.pageURL)
		if err != nil {
			t.report(err)
			return false
		}
		t.printf("Share this link: %s\n", link)
	case "/questions":
		qs := ctrl.StartQuestions()
		if len(qs) == 0 {
			t.printf("No suggested questions.\n")
		}
		for i, q := range qs {
			t.printf("%d. %s\n", i+1, q.Display)
		}
	case "/ask":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 1 {
			t.printf("usage: /ask N\n")
			return false
		}
		t.report(ctrl.AskStartQuestion(ctx, n-1))
	default:
		t.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

// report prints errors the controller has not already rendered as a notice.
func (t *Terminal) report(err error) {
	if err == nil {
		return
	}
	var werr *widget.Error
	if !errors.As(err, &werr) {
		t.printf("error: %v\n", err)
		return
	}
	switch werr.Code {
	case widget.ErrorRateLimited, widget.ErrorStartFailed, widget.ErrorSendFailed, widget.ErrorSessionClosed:
		t.logger.Debug("send rejected", zap.String("code", string(werr.Code)), zap.String("reason", werr.Reason))
	case widget.ErrorSessionPending:
		t.printf("Still starting the conversation, please wait.\n")
	case widget.ErrorConnectionLost:
		t.printf("Connection lost. Type /retry to reconnect.\n")
	case widget.ErrorSharingDisabled:
		t.printf("Sharing is disabled for this widget.\n")
	case widget.ErrorNoSession:
		t.printf("There is no conversation to share yet.\n")
	case widget.ErrorInvalidInput:
		t.printf("Nothing to send.\n")
	default:
		t.printf("error: %v\n", err)
	}
}
