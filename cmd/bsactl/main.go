// bsactl is the operator CLI for a running bsastream server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bsactl",
		Short: "Inspect and reconfigure a running bsastream server",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOrDefault("BSASTREAM_SERVER", "http://localhost:8080"), "server base URL (or set BSASTREAM_SERVER)")

	rootCmd.AddCommand(streamsCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(alignedCmd())
	rootCmd.AddCommand(reconfigureCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
