package cmd

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile    string
	serverAddr string
	dialTO     time.Duration

	// Shared state set during PersistentPreRun
	cfg *Config
)

// rootCmd is the base command for canlinkctl.
var rootCmd = &cobra.Command{
	Use:   "canlinkctl",
	Short: "Diagnostics CLI for canlinkd CAN bridges",
	Long: `canlinkctl speaks the canlinkd wire protocol. It can inject single
frames onto the bus, dump live traffic candump-style and measure
handshake latency against a running bridge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultConfigPath()
		}
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		// Flags override the file.
		if serverAddr != "" {
			cfg.Server = serverAddr
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Timeout = dialTO
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user-config-dir>/canlink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "bridge address host:port (default from config file, else 127.0.0.1:20000)")
	rootCmd.PersistentFlags().DurationVar(&dialTO, "timeout", 3*time.Second, "dial and handshake timeout")
}

// splitServer breaks a host:port address into the pair the fd dialer needs.
func splitServer(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("server address %q: %w", addr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("server address %q: bad port", addr)
	}
	return host, port, nil
}
