package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "CANLINKv1"

// ErrHandshakeTimeout reports a peer that did not complete the magic
// exchange within the deadline.
var ErrHandshakeTimeout = errors.New("handshake: timeout")

// Handshake exchanges the protocol magic in both directions over a
// net.Conn, bounded by timeout through connection deadlines.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if deadlineErr := c.SetDeadline(time.Now().Add(timeout)); deadlineErr != nil {
		return fmt.Errorf("set deadline: %w", deadlineErr)
	}
	defer c.SetDeadline(time.Time{})
	return HandshakeRW(ctx, c, timeout)
}

// HandshakeRW exchanges the protocol magic over any read-writer. On
// timeout the caller must close the underlying transport to release
// the exchange goroutines.
func HandshakeRW(ctx context.Context, rw io.ReadWriter, timeout time.Duration) error {
	errCh := make(chan error, 2)

	// Writer
	go func() {
		_, err := io.WriteString(rw, hello)
		errCh <- err
	}()

	// Reader
	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(rw, buf)
		if err == nil && string(buf) != hello {
			err = errors.New("bad hello")
		}
		errCh <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrHandshakeTimeout
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
