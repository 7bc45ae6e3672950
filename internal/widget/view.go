package widget

import (
	"context"

	"chat-widget/internal/domain"
)

// View renders the widget. The Controller calls it while holding its lock,
// so implementations must not call back into the Controller synchronously.
type View interface {
	// ShowMessage renders a message whose content has already been stripped
	// of context blocks. Ephemeral messages are notices that are not kept.
	ShowMessage(msg domain.Message, ephemeral bool)
	ShowLoading()
	HideLoading()
	SetInputEnabled(enabled bool)
	// ShowConnectionLost offers a retry action that should call
	// Controller.RetryPolling.
	ShowConnectionLost()
	HideConnectionLost()
	ShowInitError(err error)
	// Reset clears everything rendered so far.
	Reset()
}

// Consent asks the visitor whether cookies may be used.
type Consent interface {
	AskForCookies(ctx context.Context) (bool, error)
}

// ConsentFunc adapts a function to Consent.
type ConsentFunc func(ctx context.Context) (bool, error)

func (f ConsentFunc) AskForCookies(ctx context.Context) (bool, error) {
	return f(ctx)
}
