package slcan

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Attach puts the adapter on the bus: close any stale channel, set the
// bitrate preset, open. Command acks land in the RX stream and are
// skipped by DecodeStream.
func Attach(p Port, b Bitrate) error {
	for _, cmd := range [][]byte{CmdClose(), b.Cmd(), CmdOpen()} {
		if _, err := p.Write(cmd); err != nil {
			return fmt.Errorf("slcan attach: %w", err)
		}
	}
	return nil
}

// Detach closes the adapter channel.
func Detach(p Port) error {
	if _, err := p.Write(CmdClose()); err != nil {
		return fmt.Errorf("slcan detach: %w", err)
	}
	return nil
}
