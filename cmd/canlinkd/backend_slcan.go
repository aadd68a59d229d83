package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/slcan"
)

// openSLCANPort is a hook for tests (overridden in unit tests).
var openSLCANPort = slcan.Open

// initSLCANBackend opens the adapter, programs the bitrate preset and
// launches the RX loop.
func initSLCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	code, ok := slcan.BitrateCode(cfg.slcanBitrate)
	if !ok {
		return nil, func() {}, fmt.Errorf("unsupported slcan bitrate %d", cfg.slcanBitrate)
	}
	var sp slcan.Port
	err := openWithRetry(ctx, cfg.deviceRetry, l, cfg.slcanDev, func() error {
		p, oerr := openSLCANPort(cfg.slcanDev, cfg.slcanBaud, cfg.slcanReadTO)
		if oerr != nil {
			return fmt.Errorf("open slcan %s: %w", cfg.slcanDev, oerr)
		}
		sp = p
		return nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	if err := slcan.Attach(sp, code); err != nil {
		_ = sp.Close()
		return nil, func() {}, err
	}
	l.Info("slcan_open", "device", cfg.slcanDev, "baud", cfg.slcanBaud, "bitrate", cfg.slcanBitrate)
	codec := slcan.Codec{}
	w := slcan.NewTXWriter(ctx, sp, codec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("slcan_rx_end")
		buf := make([]byte, slcanReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, func(fr can.Frame) { h.Broadcast(fr) })
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return // device removed or fatal
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // ignore transient EOF
				}
				metrics.IncError(metrics.ErrSLCANRead)
				l.Warn("slcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	cleanup := func() {
		_ = slcan.Detach(sp)
		_ = sp.Close()
		w.Close()
	}
	return w.SendFrame, cleanup, nil
}
