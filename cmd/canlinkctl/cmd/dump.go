package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/canlink-io/canlink/internal/wire"
)

var (
	dumpCount    int
	dumpDuration time.Duration
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print live bus traffic candump-style",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()

		var codec wire.Codec
		out := cmd.OutOrStdout()
		var deadline time.Time
		if dumpDuration > 0 {
			deadline = time.Now().Add(dumpDuration)
		}
		seen := 0
		for dumpCount <= 0 || seen < dumpCount {
			wait := 250 * time.Millisecond
			if !deadline.IsZero() {
				left := time.Until(deadline)
				if left <= 0 {
					break
				}
				if left < wait {
					wait = left
				}
			}
			ok, werr := conn.WaitReadable(wait)
			if werr != nil {
				return fmt.Errorf("dump: %w", werr)
			}
			if !ok {
				continue
			}
			fr, derr := codec.Decode(conn)
			if derr != nil {
				if errors.Is(derr, io.EOF) {
					return nil // bridge closed the stream
				}
				return fmt.Errorf("dump: %w", derr)
			}
			ts := time.Now().Format("15:04:05.000000")
			fmt.Fprintf(out, "(%s)  %s\n", ts, formatFrame(fr))
			seen++
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().IntVar(&dumpCount, "count", 0, "stop after this many frames (0 = unlimited)")
	dumpCmd.Flags().DurationVar(&dumpDuration, "duration", 0, "stop after this long (0 = run until interrupted)")
	rootCmd.AddCommand(dumpCmd)
}
