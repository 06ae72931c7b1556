// Package cli is the operator command line: extract text from a file or
// query a directory without running the server.
package cli

import (
	"github.com/spf13/cobra"

	applog "docsearch/internal/platform/log"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "Extract and search local documents",
	Long: `docsearch extracts text from PDF, DOCX, image and plain text files
and ranks passages for a query with keyword, semantic or hybrid retrieval.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		applog.Init(applog.Config{Level: logLevel, Format: "text", Output: cmd.ErrOrStderr()})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	defer applog.Sync()
	return rootCmd.Execute()
}
