// Package tcp implements the stream transport at descriptor level on
// top of the socket lifecycle core, covering the client role and a
// single-peer server role. The bridge daemon's multi-client listener
// is a separate concern and lives in internal/server.
package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/canlink-io/canlink/internal/socket"
)

// ErrNotOpen mirrors the lifecycle sentinel for callers that do not
// import internal/socket directly.
var ErrNotOpen = socket.ErrNotOpen

const defaultBacklog = 10

type streamOpener struct{}

func (streamOpener) OpenFD() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
}

// resolveIPv4 turns a host name or dotted quad into 4 address bytes.
// The empty host resolves to INADDR_ANY for listeners.
func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" {
		return out, nil
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return out, fmt.Errorf("tcp: resolve %q: %w", host, err)
	}
	ip := addr.IP.To4()
	if ip == nil {
		return out, fmt.Errorf("tcp: %q has no IPv4 address", host)
	}
	copy(out[:], ip)
	return out, nil
}

// Conn is one stream connection owning its descriptor through the
// socket core. It implements io.ReadWriteCloser; reads map peer
// shutdown to io.EOF.
type Conn struct {
	sock *socket.Socket
}

// Dial connects to host:port and returns an open connection.
func Dial(host string, port int) (*Conn, error) {
	addr, err := resolveIPv4(host)
	if err != nil {
		return nil, err
	}
	s, err := socket.Open(streamOpener{})
	if err != nil {
		return nil, err
	}
	fd, _ := s.FD()
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Connect(fd, sa); err != nil {
		s.SetError(err)
		_ = s.Close()
		return nil, fmt.Errorf("tcp: connect %s:%d: %w", host, port, err)
	}
	return &Conn{sock: s}, nil
}

// Send transmits up to len(p) bytes with one send call, suppressing
// SIGPIPE. It returns the number of bytes accepted by the kernel.
func (c *Conn) Send(p []byte) (int, error) {
	fd, err := c.sock.FD()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			c.sock.SetError(err)
			return 0, fmt.Errorf("tcp: send: %w", err)
		}
		return n, nil
	}
}

// Recv reads up to len(p) bytes, blocking until data arrives. Orderly
// peer shutdown is reported as io.EOF.
func (c *Conn) Recv(p []byte) (int, error) {
	fd, err := c.sock.FD()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			c.sock.SetError(err)
			return 0, fmt.Errorf("tcp: recv: %w", err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// RecvTimeout bounds a receive by a deadline. Outcomes: (n>0, nil)
// data, (0, nil) deadline elapsed, (0, err) failure including io.EOF.
func (c *Conn) RecvTimeout(p []byte, d time.Duration) (int, error) {
	ok, err := c.sock.WaitReadable(d)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return c.Recv(p)
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) { return c.Recv(p) }

// Write implements io.Writer, sending until all of p is accepted.
func (c *Conn) Write(p []byte) (int, error) {
	var total int
	for total < len(p) {
		n, err := c.Send(p[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		total += n
	}
	return total, nil
}

// SetNoDelay toggles TCP_NODELAY.
func (c *Conn) SetNoDelay(on bool) error {
	fd, err := c.sock.FD()
	if err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		c.sock.SetError(err)
		return fmt.Errorf("tcp: nodelay: %w", err)
	}
	return nil
}

// SetBlocking switches the descriptor mode.
func (c *Conn) SetBlocking(block bool) error { return c.sock.SetBlocking(block) }

// WaitReadable waits for inbound data, see socket.Socket.WaitReadable.
func (c *Conn) WaitReadable(d time.Duration) (bool, error) { return c.sock.WaitReadable(d) }

// IsOpen reports whether the connection holds a live descriptor.
func (c *Conn) IsOpen() bool { return c.sock.IsOpen() }

// LastError returns the cached OS error, see socket.Socket.LastError.
func (c *Conn) LastError() error { return c.sock.LastError() }

// Close releases the connection. Closing twice is a no-op.
func (c *Conn) Close() error { return c.sock.Close() }

type listenConfig struct {
	backlog   int
	reuseAddr bool
}

// ListenOption configures a Listener.
type ListenOption func(*listenConfig)

// WithBacklog overrides the pending-connection queue length.
func WithBacklog(n int) ListenOption {
	return func(c *listenConfig) {
		if n > 0 {
			c.backlog = n
		}
	}
}

// WithReuseAddr sets SO_REUSEADDR before binding, allowing quick
// rebinds of a recently used address.
func WithReuseAddr() ListenOption {
	return func(c *listenConfig) { c.reuseAddr = true }
}

// Listener owns a listening descriptor plus exactly one data
// connection. Accepting a new peer replaces, and closes, the previous
// one; this matches devices that speak to a single controller at a
// time.
type Listener struct {
	listen *socket.Socket
	data   *Conn
}

// Listen binds host:port and starts listening. Port 0 binds an
// ephemeral port, readable via Addr.
func Listen(host string, port int, opts ...ListenOption) (*Listener, error) {
	cfg := listenConfig{backlog: defaultBacklog}
	for _, o := range opts {
		o(&cfg)
	}
	addr, err := resolveIPv4(host)
	if err != nil {
		return nil, err
	}
	s, err := socket.Open(streamOpener{})
	if err != nil {
		return nil, err
	}
	fd, _ := s.FD()
	if cfg.reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			s.SetError(err)
			_ = s.Close()
			return nil, fmt.Errorf("tcp: reuseaddr: %w", err)
		}
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		s.SetError(err)
		_ = s.Close()
		return nil, fmt.Errorf("tcp: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, cfg.backlog); err != nil {
		s.SetError(err)
		_ = s.Close()
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}
	return &Listener{listen: s, data: &Conn{sock: socket.New(nil)}}, nil
}

// Accept blocks for the next peer and adopts it as the data
// connection, closing any previous peer first. The returned Conn is
// the listener's data connection, stable across accepts.
func (l *Listener) Accept() (*Conn, error) {
	fd, err := l.listen.FD()
	if err != nil {
		return nil, err
	}
	for {
		nfd, _, err := unix.Accept(fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			l.listen.SetError(err)
			return nil, fmt.Errorf("tcp: accept: %w", err)
		}
		l.data.sock.Assign(nfd)
		return l.data, nil
	}
}

// Conn returns the data connection. It is unopened until the first
// Accept succeeds.
func (l *Listener) Conn() *Conn { return l.data }

// Addr reports the bound listen address.
func (l *Listener) Addr() (*net.TCPAddr, error) {
	fd, err := l.listen.FD()
	if err != nil {
		return nil, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("tcp: getsockname: %w", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, errors.New("tcp: unexpected sockaddr family")
	}
	return &net.TCPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}, nil
}

// Close releases the data connection first, then the listening
// descriptor.
func (l *Listener) Close() error {
	dErr := l.data.Close()
	if err := l.listen.Close(); err != nil {
		return err
	}
	return dErr
}
