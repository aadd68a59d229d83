//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/socket"
)

// ErrFDOnClassic is returned when an FD frame is written to a device
// whose interface does not support CAN FD.
var ErrFDOnClassic = errors.New("socketcan: fd frame on classic device")

type canOpener struct{}

func (canOpener) OpenFD() (int, error) {
	return unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
}

// Device is a raw CAN endpoint bound to one interface. FD support is
// probed from the interface MTU at open time: an FD-capable interface
// carries MTU 72 and gets CAN_RAW_FD_FRAMES enabled.
type Device struct {
	sock *socket.Socket
	name string
	fd   bool
}

func Open(iface string) (*Device, error) {
	s, err := socket.Open(canOpener{})
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	sfd, _ := s.FD()
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	fdCapable := ifi.MTU >= mtuFD
	mode := 0
	if fdCapable {
		mode = 1
	}
	if err := unix.SetsockoptInt(sfd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, mode); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = s.Close()
			return nil, fmt.Errorf("can fd mode: %w", err)
		}
		fdCapable = false
	}
	if err := unix.Bind(sfd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		s.SetError(err)
		_ = s.Close()
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{sock: s, name: iface, fd: fdCapable}, nil
}

// Name returns the bound interface name.
func (d *Device) Name() string { return d.name }

// FDCapable reports whether the device accepts CAN FD frames.
func (d *Device) FDCapable() bool { return d.fd }

// LastError returns the most recent OS failure seen on the device.
func (d *Device) LastError() error { return d.sock.LastError() }

// Close releases the device. Closing twice is a no-op.
func (d *Device) Close() error { return d.sock.Close() }

// ReadFrame reads one frame, blocking until traffic arrives. The
// variant is inferred from the read size.
func (d *Device) ReadFrame(fr *can.Frame) error {
	fd, err := d.sock.FD()
	if err != nil {
		return err
	}
	var buf [mtuFD]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			d.sock.SetError(err)
			return fmt.Errorf("socketcan: read: %w", err)
		}
		return parseFrame(buf[:n], fr)
	}
}

// ReadFrameTimeout bounds a read by a deadline. Outcomes: (true, nil)
// frame read, (false, nil) deadline elapsed with no traffic,
// (false, err) failure. A zero timeout polls without waiting.
func (d *Device) ReadFrameTimeout(fr *can.Frame, timeout time.Duration) (bool, error) {
	ok, err := d.sock.WaitReadable(timeout)
	if err != nil || !ok {
		return false, err
	}
	if err := d.ReadFrame(fr); err != nil {
		return false, err
	}
	return true, nil
}

// WriteFrame writes one frame. The payload length is clamped to the
// variant capacity; FD frames need an FD-capable device.
func (d *Device) WriteFrame(fr can.Frame) error {
	if fr.FD && !d.fd {
		return ErrFDOnClassic
	}
	fd, err := d.sock.FD()
	if err != nil {
		return err
	}
	var buf [mtuFD]byte
	size := putFrame(buf[:], fr)
	for {
		n, err := unix.Write(fd, buf[:size])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			d.sock.SetError(err)
			return fmt.Errorf("socketcan: write: %w", err)
		}
		if n != size {
			return fmt.Errorf("socketcan: short write: %d", n)
		}
		return nil
	}
}
