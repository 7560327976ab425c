// Package cmd implements the boostd command tree.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/boostd/internal/config"
)

var (
	configPath string
	apiAddr    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "boostd",
	Short: "Keep remote accounts signed in and report declared activity",
	Long: `boostd runs a daemon that owns one live remote session per registered
account: it signs accounts in, relays challenge codes, declares activity and
records session history in a local SQLite database.

Run "boostd serve" to start the daemon. Every other command talks to a
running daemon over its HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/boostd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "", "daemon address (default: listen_addr from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// baseURL resolves the daemon URL from --addr or the configured listen_addr.
func baseURL() (string, error) {
	addr := apiAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return "", err
		}
		addr = cfg.ListenAddr
	}
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/"), nil
}
