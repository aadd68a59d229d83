package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/canlink-io/canlink/internal/metrics"
)

// startMetricsLogger periodically logs counter snapshots together with
// process scheduling stats. Involuntary context switches and major
// faults are the first things to check when the RT pump reports
// overruns.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	proc, perr := process.NewProcess(int32(os.Getpid()))
	if perr != nil {
		l.Warn("process_stats_unavailable", "error", perr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				args := []any{
					"slcan_rx", snap.SLCANRx,
					"slcan_tx", snap.SLCANTx,
					"socketcan_rx", snap.SocketCANRx,
					"socketcan_tx", snap.SocketCANTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"mqtt_tx", snap.MQTTTx,
					"mqtt_rx", snap.MQTTRx,
					"rt_cycles", snap.RTCycles,
					"rt_overruns", snap.RTOverruns,
					"hub_drops", snap.HubDrops,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				}
				if proc != nil {
					if cs, err := proc.NumCtxSwitchesWithContext(ctx); err == nil {
						args = append(args, "ctx_switches_involuntary", cs.Involuntary, "ctx_switches_voluntary", cs.Voluntary)
					}
					if pf, err := proc.PageFaultsWithContext(ctx); err == nil {
						args = append(args, "page_faults_major", pf.MajorFaults, "page_faults_minor", pf.MinorFaults)
					}
				}
				l.Info("metrics_snapshot", args...)
			case <-ctx.Done():
				return
			}
		}
	}()
}
