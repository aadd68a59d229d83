package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/slcan"
)

// blockingPort lets the three attach command writes through, then blocks
// every further write to force TX queue overflow.
type blockingPort struct {
	block  chan struct{}
	writes int32
}

func (p *blockingPort) Read(b []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}

func (p *blockingPort) Write(b []byte) (int, error) {
	if atomic.AddInt32(&p.writes, 1) <= 3 {
		return len(b), nil
	}
	<-p.block
	return len(b), nil
}

func (p *blockingPort) Close() error { close(p.block); return nil }

func TestSLCANBackendTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp := &blockingPort{block: make(chan struct{})}
	openSLCANPort = func(name string, baud int, to time.Duration) (slcan.Port, error) { return bp, nil }
	defer func() { openSLCANPort = slcan.Open }()
	beforeErrs := metrics.Snap().Errors

	h := hub.New()
	cfg := &appConfig{backend: "slcan", slcanDev: "fake", slcanBaud: 115200, slcanBitrate: 500000, slcanReadTO: 10 * time.Millisecond}
	var wg sync.WaitGroup
	send, cleanup, err := initSLCANBackend(ctx, cfg, h, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSLCANBackend: %v", err)
	}
	defer cleanup()

	// Fill buffer; first frame dequeues and the worker blocks on Write,
	// so the queue backs up until SendFrame overflows.
	var overflowErr error
	for i := 0; i < txQueueSize+2; i++ {
		fr := can.Frame{ID: uint32(i & 0x7FF), Len: 1}
		err := send(fr)
		if err != nil && overflowErr == nil {
			overflowErr = err
		}
	}
	if overflowErr == nil {
		t.Fatalf("expected at least one overflow error")
	}
	if !errors.Is(overflowErr, slcan.ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", overflowErr)
	}
	afterErrs := metrics.Snap().Errors
	if afterErrs == beforeErrs {
		t.Fatalf("expected error metric increment on overflow")
	}
}
