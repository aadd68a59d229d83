package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/wire"
)

var sendCmd = &cobra.Command{
	Use:   "send ID#DATA",
	Short: "Inject one CAN frame through the bridge",
	Long: `Send encodes a single frame in cansend syntax and delivers it to the
bridge, which forwards it to the CAN device.

  canlinkctl send 123#DEADBEEF     classic frame, standard id
  canlinkctl send 1F334455#01      classic frame, extended id
  canlinkctl send 123#R            remote request
  canlinkctl send 123##0DEADBEEF   CAN FD frame (flags nibble after ##)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fr, err := parseFrameArg(args[0])
		if err != nil {
			return err
		}
		conn, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()
		var codec wire.Codec
		if _, err := conn.Write(codec.Encode([]can.Frame{fr})); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent  %s\n", formatFrame(fr))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
