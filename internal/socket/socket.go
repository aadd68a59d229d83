// Package socket provides the descriptor lifecycle shared by the
// stream and frame transports: open/closed state, blocking mode, a
// cached OS error, readiness waits and adoption of accepted handles.
package socket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotOpen is returned by operations that need an open descriptor.
var ErrNotOpen = errors.New("socket: not open")

// Opener produces the raw descriptor for a concrete socket family.
// Implementations call unix.Socket with their family/type/protocol.
type Opener interface {
	OpenFD() (int, error)
}

// OpenerFunc adapts a plain function to the Opener interface.
type OpenerFunc func() (int, error)

func (f OpenerFunc) OpenFD() (int, error) { return f() }

// Socket owns one OS descriptor and tracks its lifecycle. A socket is
// created unopened, opened by its Opener (or by Assign), and closed at
// most once against the OS; further Close calls succeed as no-ops.
type Socket struct {
	mu       sync.Mutex
	fd       int
	open     bool
	blocking bool
	lastErr  error
	opener   Opener
}

// New returns an unopened socket bound to o. Descriptors are created
// lazily by Reopen so a failed open can be retried on the same value.
func New(o Opener) *Socket {
	return &Socket{fd: -1, blocking: true, opener: o}
}

// Open creates a socket and immediately opens its descriptor. The
// socket is returned even when the open fails so the caller can read
// LastError or retry with Reopen.
func Open(o Opener) (*Socket, error) {
	s := New(o)
	return s, s.Reopen()
}

// Reopen runs the opener and takes ownership of the produced
// descriptor. It fails when the socket is already open.
func (s *Socket) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("socket: already open (fd %d)", s.fd)
	}
	if s.opener == nil {
		return errors.New("socket: no opener")
	}
	fd, err := s.opener.OpenFD()
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("socket: open: %w", err)
	}
	s.fd = fd
	s.open = true
	s.blocking = true
	return nil
}

// Assign adopts an externally produced descriptor, closing any
// currently open one first. Accepted connections arrive here.
func (s *Socket) Assign(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.closeLocked()
	}
	s.fd = fd
	s.open = true
	s.blocking = true
}

// FD returns the descriptor for an I/O call, or ErrNotOpen.
func (s *Socket) FD() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return -1, ErrNotOpen
	}
	return s.fd, nil
}

// IsOpen reports whether the descriptor is currently usable.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Blocking reports the last mode requested via SetBlocking.
func (s *Socket) Blocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocking
}

// LastError returns the most recent OS-level failure seen on this
// socket, or nil. It is diagnostic state and is never cleared by
// successful operations.
func (s *Socket) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetError records an OS-level failure observed by a transport using
// this socket's descriptor.
func (s *Socket) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// SetBlocking switches the descriptor between blocking and
// non-blocking mode.
func (s *Socket) SetBlocking(block bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if err := unix.SetNonblock(s.fd, !block); err != nil {
		s.lastErr = err
		return fmt.Errorf("socket: set blocking %v: %w", block, err)
	}
	s.blocking = block
	return nil
}

// WaitReadable blocks until the descriptor has readable data, the
// timeout elapses, or the wait fails. A negative timeout waits without
// bound. Outcomes: (true, nil) readable, (false, nil) deadline
// elapsed, (false, err) failure. Hangup and error conditions count as
// readable so the following read observes them.
func (s *Socket) WaitReadable(timeout time.Duration) (bool, error) {
	fd, err := s.FD()
	if err != nil {
		return false, err
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			s.SetError(err)
			return false, fmt.Errorf("socket: poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		return true, nil
	}
}

// Close shuts the descriptor down and releases it. Closing an already
// closed or never-opened socket succeeds as a no-op. The socket counts
// as closed even when the OS close reports a failure.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	return s.closeLocked()
}

func (s *Socket) closeLocked() error {
	// shutdown is best effort; unconnected descriptors report ENOTCONN
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	err := unix.Close(s.fd)
	s.fd = -1
	s.open = false
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("socket: close: %w", err)
	}
	return nil
}
