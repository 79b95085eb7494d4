package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/logger"
)

const defaultSendTimeout = 10 * time.Second

// NotificationObserver records the outcome of each notification send.
type NotificationObserver interface {
	ObserveNotification(kind domain.NotificationKind, err error)
}

// AsyncDispatcher runs notification sends detached from the request that
// triggered them. Each send gets its own deadline and reports on its own channel.
type AsyncDispatcher struct {
	notifier port.Notifier
	timeout  time.Duration
	observer NotificationObserver
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewAsyncDispatcher wraps notifier; timeout <= 0 falls back to 10s.
func NewAsyncDispatcher(notifier port.Notifier, timeout time.Duration, observer NotificationObserver, log *zap.Logger) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncDispatcher{notifier: notifier, timeout: timeout, observer: observer, logger: log}
}

// SendVerification dispatches a verification email.
func (d *AsyncDispatcher) SendVerification(ctx context.Context, email, token, username string) <-chan error {
	return d.dispatch(ctx, domain.NotificationVerification, email, func(c context.Context) error {
		return d.notifier.SendVerification(c, email, token, username)
	})
}

// SendPasswordReset dispatches a password reset email.
func (d *AsyncDispatcher) SendPasswordReset(ctx context.Context, email, token, username string) <-chan error {
	return d.dispatch(ctx, domain.NotificationPasswordReset, email, func(c context.Context) error {
		return d.notifier.SendPasswordReset(c, email, token, username)
	})
}

// SendWelcome dispatches a welcome email.
func (d *AsyncDispatcher) SendWelcome(ctx context.Context, email, username string) <-chan error {
	return d.dispatch(ctx, domain.NotificationWelcome, email, func(c context.Context) error {
		return d.notifier.SendWelcome(c, email, username)
	})
}

// Wait blocks until every dispatched send has finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

func (d *AsyncDispatcher) dispatch(ctx context.Context, kind domain.NotificationKind, email string, send func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	if d == nil || d.notifier == nil {
		close(done)
		return done
	}

	log := logger.WithContext(ctx, d.logger).With(
		zap.String("notification", string(kind)),
		zap.String("email", logger.MaskEmail(email)),
	)
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)

		sendCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		err := safeSend(sendCtx, send)
		if err != nil {
			log.Warn("notification delivery failed", zap.Error(err))
		} else {
			log.Debug("notification delivered")
		}
		if d.observer != nil {
			d.observer.ObserveNotification(kind, err)
		}
		done <- err
	}()

	return done
}

func safeSend(ctx context.Context, send func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return send(ctx)
}
