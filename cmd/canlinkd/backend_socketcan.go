//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// initSocketCANBackend opens the interface and launches either the
// free-running RX loop or, with -rt-pump, the fixed-period drain task.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	var dev socketcan.Dev
	err := openWithRetry(ctx, cfg.deviceRetry, l, cfg.canIf, func() error {
		d, oerr := openSocketCANDevice(cfg.canIf)
		if oerr != nil {
			return fmt.Errorf("socketcan open %s: %w", cfg.canIf, oerr)
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	if d, ok := dev.(*socketcan.Device); ok {
		l.Info("socketcan_open", "if", cfg.canIf, "fd_capable", d.FDCapable())
	} else {
		l.Info("socketcan_open", "if", cfg.canIf)
	}
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)

	if cfg.rtPump {
		stopPump, perr := startRTPump(ctx, cfg, dev, h, l)
		if perr != nil {
			_ = dev.Close()
			tw.Close()
			return nil, func() {}, perr
		}
		return tw.SendFrame, func() { stopPump(); _ = dev.Close(); tw.Close() }, nil
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncSocketCANRx()
			h.Broadcast(fr)
			backoff = rxBackoffMin
		}
	}()
	return tw.SendFrame, func() { _ = dev.Close(); tw.Close() }, nil
}
