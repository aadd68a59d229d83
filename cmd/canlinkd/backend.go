package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// retryInitialInterval seeds the device-open backoff; tests lower it.
var retryInitialInterval = 250 * time.Millisecond

// initBackend selects the backend, starts its RX path and returns a frame sender and cleanup.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.backend {
	case "slcan":
		return initSLCANBackend(ctx, cfg, h, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, h, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use slcan|socketcan)", cfg.backend)
	}
}

// openWithRetry runs open until it succeeds, the retry budget elapses or
// ctx is cancelled. A zero budget means a single attempt.
func openWithRetry(ctx context.Context, budget time.Duration, l *slog.Logger, device string, open func() error) error {
	if budget <= 0 {
		return open()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = budget
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := open()
		if err != nil {
			l.Warn("device_open_retry", "device", device, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
