//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/rtask"
	"github.com/canlink-io/canlink/internal/socketcan"
)

// rtPumpMaxDrain caps frames drained per cycle so a flooded bus cannot
// make a single Update overrun the period.
const rtPumpMaxDrain = 64

// startRTPump replaces the free-running RX goroutine with a periodic
// task that polls the device each cycle. Zero-timeout reads keep the
// cycle bounded; the hooks feed the RT latency metrics.
func startRTPump(ctx context.Context, cfg *appConfig, dev socketcan.Dev, h *hub.Hub, l *slog.Logger) (func(), error) {
	task := rtask.TaskFuncs{
		UpdateFunc: func() bool {
			var fr can.Frame
			for i := 0; i < rtPumpMaxDrain; i++ {
				ok, err := dev.ReadFrameTimeout(&fr, 0)
				if err != nil {
					if ctx.Err() != nil {
						return false
					}
					metrics.IncError(metrics.ErrRTPump)
					return true
				}
				if !ok { // bus quiet
					break
				}
				metrics.IncSocketCANRx()
				h.Broadcast(fr)
			}
			return ctx.Err() == nil
		},
	}
	opts := []rtask.Option{
		rtask.WithPeriod(cfg.rtPeriod),
		rtask.WithPriority(cfg.rtPriority),
		// The device socket buffers while the loop thread settles, so a
		// short grace keeps startup from backing up the kernel RX queue.
		rtask.WithStartupGrace(50 * time.Millisecond),
		rtask.WithLogger(l),
		rtask.WithHooks(rtask.Hooks{
			OnCycle:   func(lat time.Duration) { metrics.IncRTCycle(lat) },
			OnOverrun: func(time.Duration) { metrics.IncRTOverrun() },
		}),
	}
	if cfg.rtStrict {
		opts = append(opts, rtask.WithStrictScheduling())
	}
	r := rtask.New(task, opts...)
	if err := r.Start(); err != nil {
		return nil, fmt.Errorf("rt pump start: %w", err)
	}
	l.Info("rt_pump_started", "period", cfg.rtPeriod, "priority", cfg.rtPriority, "strict", cfg.rtStrict)
	stop := func() {
		r.Stop()
		jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Join(jctx); err != nil {
			l.Warn("rt_pump_join_timeout", "error", err)
		}
	}
	return stop, nil
}
