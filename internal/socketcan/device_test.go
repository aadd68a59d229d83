//go:build linux

package socketcan

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/socket"
)

// openVCAN opens the named virtual interface or skips the test when it
// is not configured (ip link add dev vcan0 type vcan; ip link set up vcan0).
func openVCAN(t *testing.T) *Device {
	t.Helper()
	d, err := Open("vcan0")
	if err != nil {
		t.Skipf("vcan0 not available: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenUnknownInterface(t *testing.T) {
	if _, err := Open("definitely-not-a-can-if"); err == nil {
		t.Fatalf("expected open of unknown interface to fail")
	}
}

func TestVCANLoopback(t *testing.T) {
	tx := openVCAN(t)
	rx := openVCAN(t)

	fr := can.Frame{ID: 0x2A1, Len: 8}
	copy(fr.Data[:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4})
	if err := tx.WriteFrame(fr); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got can.Frame
	ok, err := rx.ReadFrameTimeout(&got, time.Second)
	if err != nil {
		t.Fatalf("ReadFrameTimeout: %v", err)
	}
	if !ok {
		t.Fatalf("no frame within deadline")
	}
	if got.ID != fr.ID || !bytes.Equal(got.Payload(), fr.Payload()) {
		t.Fatalf("loopback mismatch: %+v", got)
	}
}

func TestVCANReadTimeoutElapses(t *testing.T) {
	rx := openVCAN(t)
	var fr can.Frame
	start := time.Now()
	ok, err := rx.ReadFrameTimeout(&fr, 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("quiet bus read = (%v, %v), want (false, nil)", ok, err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("deadline returned too early")
	}
}

func TestVCANFDWriteRequiresCapability(t *testing.T) {
	d := openVCAN(t)
	if d.FDCapable() {
		t.Skip("vcan0 runs with mtu 72, fd frames accepted")
	}
	err := d.WriteFrame(can.Frame{ID: 1, Len: 12, FD: true})
	if !errors.Is(err, ErrFDOnClassic) {
		t.Fatalf("fd write on classic device = %v, want ErrFDOnClassic", err)
	}
}

func TestClosedDeviceIO(t *testing.T) {
	d := openVCAN(t)
	_ = d.Close()
	var fr can.Frame
	if err := d.ReadFrame(&fr); !errors.Is(err, socket.ErrNotOpen) {
		t.Fatalf("read after close = %v, want ErrNotOpen", err)
	}
	if err := d.WriteFrame(can.Frame{ID: 1}); !errors.Is(err, socket.ErrNotOpen) {
		t.Fatalf("write after close = %v, want ErrNotOpen", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
