package cmd

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/wire"
)

// fakeBridge accepts one connection, answers the handshake and then
// echoes every byte back to the client.
func fakeBridge(t *testing.T, magic string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, len(magic))
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		if _, err := io.WriteString(c, magic); err != nil {
			return
		}
		io.Copy(c, c)
	}()
	return ln
}

func withTestConfig(t *testing.T, server string) {
	t.Helper()
	old := cfg
	cfg = &Config{Server: server, Timeout: 2 * time.Second}
	t.Cleanup(func() { cfg = old })
}

func TestConnectAndSendAgainstFakeBridge(t *testing.T) {
	ln := fakeBridge(t, "CANLINKv1")
	withTestConfig(t, ln.Addr().String())

	conn, err := connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	want := can.Frame{ID: 0x1A5 | can.EFFFlag, Len: 3, Data: [64]byte{0xDE, 0xAD, 0x01}}
	var codec wire.Codec
	if _, err := conn.Write(codec.Encode([]can.Frame{want})); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := codec.Decode(conn)
	if err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if got != want {
		t.Fatalf("echo = %+v, want %+v", got, want)
	}
}

func TestConnectRejectsBadHello(t *testing.T) {
	ln := fakeBridge(t, "XANLINKv1")
	withTestConfig(t, ln.Addr().String())

	if _, err := connect(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	withTestConfig(t, addr)

	if _, err := connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}
