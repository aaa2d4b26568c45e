// Package commands implements the leachctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the plain net/http client used for every admin
	// request. leachd exposes its debug surface as JSON/text over
	// HTTP -- one simulator process, one small mux -- so no RPC
	// framework is wired in here.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// serverAddr is the leachd admin/metrics listen address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for leachctl.
var rootCmd = &cobra.Command{
	Use:   "leachctl",
	Short: "CLI client for the leachd routing daemon",
	Long:  "leachctl polls a leachd process's debug HTTP endpoints to inspect the effective network schedule and per-node routing tables.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9100",
		"leachd admin/metrics address (host:port)")

	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
