package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSendTimeout = 5 * time.Second

// Dispatcher sends messages in the background. Failures are logged and
// dropped; the caller never waits for or observes delivery.
type Dispatcher struct {
	poster  Poster
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. A nil poster disables sending.
func NewDispatcher(poster Poster, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{poster: poster, logger: logger, timeout: timeout}
}

// Send delivers msg on a detached goroutine.
func (d *Dispatcher) Send(msg Message) {
	if d == nil || d.poster == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification panicked", zap.Any("panic", r), zap.String("action", msg.Action))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.poster.Post(ctx, msg); err != nil {
			d.logger.Warn("notification failed",
				zap.String("action", msg.Action),
				zap.String("user", msg.UserName),
				zap.Error(err))
			return
		}
		d.logger.Debug("notification sent", zap.String("action", msg.Action))
	}()
}

// Wait blocks until every pending send has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
