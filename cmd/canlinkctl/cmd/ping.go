package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure connect plus handshake round-trip latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		var min, max, total time.Duration
		okCount := 0
		for i := 0; i < pingCount; i++ {
			start := time.Now()
			conn, err := connect(cmd.Context())
			lat := time.Since(start)
			if err != nil {
				fmt.Fprintf(out, "ping %d: %v\n", i+1, err)
				continue
			}
			_ = conn.Close()
			fmt.Fprintf(out, "ping %d: handshake %v\n", i+1, lat.Round(time.Microsecond))
			if okCount == 0 || lat < min {
				min = lat
			}
			if lat > max {
				max = lat
			}
			total += lat
			okCount++
			if i+1 < pingCount {
				time.Sleep(200 * time.Millisecond)
			}
		}
		if okCount == 0 {
			return fmt.Errorf("all %d handshakes failed", pingCount)
		}
		avg := total / time.Duration(okCount)
		fmt.Fprintf(out, "%d/%d ok, min/avg/max = %v/%v/%v\n",
			okCount, pingCount,
			min.Round(time.Microsecond), avg.Round(time.Microsecond), max.Round(time.Microsecond))
		return nil
	},
}

func init() {
	pingCmd.Flags().IntVar(&pingCount, "count", 4, "number of handshakes to time")
	rootCmd.AddCommand(pingCmd)
}
