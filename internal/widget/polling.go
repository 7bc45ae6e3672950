package widget

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startPollingLocked launches the history poller for the current session.
// It is a no-op while a poller is already running.
func (c *Controller) startPollingLocked() {
	if c.pollCancel != nil || c.sessionID == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done
	c.pollFailures = 0
	c.pollState = PollingActive

	go c.pollLoop(ctx, c.epoch, done)
}

// stopPollingLocked cancels the poller and returns a channel closed once it
// has exited. Callers must release the lock before waiting on it.
func (c *Controller) stopPollingLocked() <-chan struct{} {
	if c.pollCancel == nil {
		return nil
	}
	c.pollCancel()
	done := c.pollDone
	c.pollCancel = nil
	c.pollDone = nil
	return done
}

func (c *Controller) pollLoop(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The poller never waits on its own done channel.
			if keep, _, _ := c.poll(ctx, epoch); !keep {
				return
			}
		}
	}
}

// PollOnce fetches history once and merges anything new, counting a failure
// toward the circuit breaker like a scheduled poll would.
func (c *Controller) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	_, stopped, err := c.poll(ctx, epoch)
	if stopped != nil {
		<-stopped
	}
	return err
}

// poll reports whether polling should continue. When the failure limit is
// reached it also returns the stopped poller's done channel.
func (c *Controller) poll(ctx context.Context, epoch uint64) (bool, <-chan struct{}, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	if epoch != c.epoch || sessionID == "" {
		c.mu.Unlock()
		return false, nil, newError(ErrorNoSession, "no_session_to_poll", nil)
	}
	c.mu.Unlock()

	history, err := c.transport.FetchHistory(ctx, sessionID)

	defer c.flushPersist(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false, nil, newError(ErrorSessionClosed, "closed_while_polling", err)
	}
	if ctx.Err() != nil {
		return false, nil, ctx.Err()
	}

	if err != nil {
		c.pollFailures++
		c.logger.Warn("polling failed",
			zap.String("session_id", sessionID),
			zap.Int("failures", c.pollFailures),
			zap.Error(err),
		)
		if c.pollFailures >= c.cfg.MaxPollingFailures {
			return false, c.failPollingLocked(), newError(ErrorConnectionLost, "max_polling_failures", err)
		}
		return true, nil, err
	}

	c.pollFailures = 0
	c.mergeLocked(toMessages(history))
	return true, nil, nil
}

// failPollingLocked trips the circuit breaker: polling stops, input is
// disabled and the connection-lost notice is shown once.
func (c *Controller) failPollingLocked() <-chan struct{} {
	done := c.stopPollingLocked()
	c.pollState = PollingFailed
	c.logger.Error("max polling failures reached, stopping polling",
		zap.String("session_id", c.sessionID),
		zap.Int("failures", c.pollFailures),
	)
	if !c.connectionLostShown {
		c.connectionLostShown = true
		c.view.ShowConnectionLost()
		c.view.SetInputEnabled(false)
	}
	return done
}

// RetryPolling resets the failure count and restarts polling after the
// connection was declared lost.
func (c *Controller) RetryPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollState != PollingFailed {
		return
	}
	c.pollFailures = 0
	c.pollState = PollingStopped
	if c.connectionLostShown {
		c.connectionLostShown = false
		c.view.HideConnectionLost()
	}
	c.view.SetInputEnabled(true)
	c.logger.Info("retrying polling", zap.String("session_id", c.sessionID))
	c.startPollingLocked()
}
