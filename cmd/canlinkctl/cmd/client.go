package cmd

import (
	"context"
	"fmt"

	"github.com/canlink-io/canlink/internal/tcp"
	"github.com/canlink-io/canlink/internal/wire"
)

// connect dials the bridge and completes the protocol handshake.
func connect(ctx context.Context) (*tcp.Conn, error) {
	host, port, err := splitServer(cfg.Server)
	if err != nil {
		return nil, err
	}
	conn, err := tcp.Dial(host, port)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Server, err)
	}
	_ = conn.SetNoDelay(true)
	if err := wire.HandshakeRW(ctx, conn, cfg.Timeout); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", cfg.Server, err)
	}
	return conn, nil
}
