package socket

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// failOpener fails a configurable number of times before producing a
// descriptor, to exercise the retry path.
type failOpener struct {
	failures int
	calls    int
}

func (f *failOpener) OpenFD() (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return -1, unix.ENODEV
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	_ = unix.Close(fds[1])
	return fds[0], nil
}

func newPair(t *testing.T) (*Socket, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	s := New(nil)
	s.Assign(fds[0])
	t.Cleanup(func() {
		_ = s.Close()
		_ = unix.Close(fds[1])
	})
	return s, fds[1]
}

func TestOpenFailureIsRetryable(t *testing.T) {
	op := &failOpener{failures: 1}
	s, err := Open(op)
	if err == nil {
		t.Fatalf("expected first open to fail")
	}
	if s == nil {
		t.Fatalf("failed open must still return the socket")
	}
	if s.IsOpen() {
		t.Fatalf("socket reported open after failed open")
	}
	if le := s.LastError(); !errors.Is(le, unix.ENODEV) {
		t.Fatalf("LastError = %v, want ENODEV", le)
	}
	if err := s.Reopen(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	defer s.Close()
	if !s.IsOpen() {
		t.Fatalf("socket not open after retry")
	}
	if err := s.Reopen(); err == nil {
		t.Fatalf("expected reopen of an open socket to fail")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, peer := newPair(t)
	_ = peer
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close must succeed, got %v", err)
	}
	if s.IsOpen() {
		t.Fatalf("socket still open after close")
	}
	if _, err := s.FD(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("FD after close = %v, want ErrNotOpen", err)
	}
}

func TestCloseNeverOpened(t *testing.T) {
	s := New(nil)
	if err := s.Close(); err != nil {
		t.Fatalf("close of never-opened socket: %v", err)
	}
}

func TestWaitReadableOutcomes(t *testing.T) {
	s, peer := newPair(t)

	// nothing to read yet
	ok, err := s.WaitReadable(20 * time.Millisecond)
	if err != nil || ok {
		t.Fatalf("empty wait = (%v, %v), want (false, nil)", ok, err)
	}

	if _, err := unix.Write(peer, []byte{0x42}); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	ok, err = s.WaitReadable(time.Second)
	if err != nil || !ok {
		t.Fatalf("ready wait = (%v, %v), want (true, nil)", ok, err)
	}

	_ = s.Close()
	if _, err := s.WaitReadable(0); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("wait on closed = %v, want ErrNotOpen", err)
	}
}

func TestWaitReadableSeesPeerHangup(t *testing.T) {
	s, peer := newPair(t)
	_ = unix.Close(peer)
	ok, err := s.WaitReadable(time.Second)
	if err != nil || !ok {
		t.Fatalf("hangup wait = (%v, %v), want readable", ok, err)
	}
}

func TestSetBlocking(t *testing.T) {
	s, _ := newPair(t)
	if !s.Blocking() {
		t.Fatalf("fresh socket should be blocking")
	}
	if err := s.SetBlocking(false); err != nil {
		t.Fatalf("SetBlocking(false): %v", err)
	}
	if s.Blocking() {
		t.Fatalf("mode not tracked")
	}
	fd, _ := s.FD()
	var buf [1]byte
	if _, err := unix.Read(fd, buf[:]); !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("nonblocking read = %v, want EAGAIN", err)
	}
	if err := s.SetBlocking(true); err != nil {
		t.Fatalf("SetBlocking(true): %v", err)
	}
	_ = s.Close()
	if err := s.SetBlocking(false); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SetBlocking on closed = %v, want ErrNotOpen", err)
	}
}

func TestAssignClosesPrevious(t *testing.T) {
	s, _ := newPair(t)
	oldFD, _ := s.FD()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])
	s.Assign(fds[0])

	if _, err := unix.FcntlInt(uintptr(oldFD), unix.F_GETFD, 0); !errors.Is(err, unix.EBADF) {
		t.Fatalf("previous descriptor still valid after assign: %v", err)
	}
	got, err := s.FD()
	if err != nil || got != fds[0] {
		t.Fatalf("FD after assign = %d, %v", got, err)
	}
}
