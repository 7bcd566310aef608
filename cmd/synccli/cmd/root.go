package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

// rootCmd is the base command for synccli.
var rootCmd = &cobra.Command{
	Use:   "synccli",
	Short: "Operate the PACS-to-CAMA sync engine's control plane",
	Long: `synccli talks to a running sync engine's HTTP control plane to submit
sync jobs, check their status, and cancel them.

Examples:
  synccli sync full --tenant acme-county
  synccli sync incremental --tenant acme-county --since 2026-07-30T00:00:00Z
  synccli sync status <job-id>
  synccli sync cancel <job-id>
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "sync engine control plane address")
	rootCmd.AddCommand(syncCmd)
}
