//go:build linux

package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/socketcan"
)

type fakeSocketDev struct {
	mu       sync.Mutex
	frames   []can.Frame
	idx      int
	errAfter bool
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		return nil
	}
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	time.Sleep(10 * time.Millisecond)
	return io.EOF
}

func (d *fakeSocketDev) ReadFrameTimeout(fr *can.Frame, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		return true, nil
	}
	return false, nil
}

func (d *fakeSocketDev) WriteFrame(fr can.Frame) error { return nil }
func (d *fakeSocketDev) Close() error                  { return nil }

func restoreSocketCANOpener() {
	openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }
}

func TestInitSocketCANBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.Frame{ID: 0x555, Len: 3}
	frame.Data[0], frame.Data[1], frame.Data[2] = 0x01, 0x02, 0x03

	openSocketCANDevice = func(iface string) (socketcan.Dev, error) {
		return &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}, nil
	}
	defer restoreSocketCANOpener()

	h := hub.New()
	c := &hub.Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(c)
	cfg := &appConfig{backend: "socketcan", canIf: "vcan0"}
	var wg sync.WaitGroup
	send, cleanup, err := initSocketCANBackend(ctx, cfg, h, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend: %v", err)
	}
	defer cleanup()

	select {
	case fr := <-c.Out:
		if fr.ID != frame.ID || fr.Len != frame.Len {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for socketcan frame")
	}

	if err := send(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	// Allow read error path to trigger once.
	time.Sleep(30 * time.Millisecond)
	snap := metrics.Snap()
	if snap.SocketCANRx == 0 {
		t.Fatalf("expected SocketCANRx > 0")
	}
	if snap.Errors == 0 {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
}

// TestInitSocketCANBackendDeviceRetry exercises the -device-retry path:
// the first two opens fail, the third succeeds within the budget.
func TestInitSocketCANBackendDeviceRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := retryInitialInterval
	retryInitialInterval = time.Millisecond
	defer func() { retryInitialInterval = old }()

	var mu sync.Mutex
	opens := 0
	openSocketCANDevice = func(iface string) (socketcan.Dev, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens < 3 {
			return nil, errors.New("interface down")
		}
		return &fakeSocketDev{}, nil
	}
	defer restoreSocketCANOpener()

	cfg := &appConfig{backend: "socketcan", canIf: "vcan0", deviceRetry: 2 * time.Second}
	var wg sync.WaitGroup
	_, cleanup, err := initSocketCANBackend(ctx, cfg, hub.New(), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend with retry: %v", err)
	}
	cleanup()
	mu.Lock()
	defer mu.Unlock()
	if opens != 3 {
		t.Fatalf("opens = %d, want 3", opens)
	}
}
