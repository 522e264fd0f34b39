// Package cli implements the datasink command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/datasink-io/datasink/internal/config"
)

var (
	datasetsDir string
	dataDir     string
	useMemory   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "datasink",
	Short: "Datasink - dataset ingestion and statement store",
	Long: `Datasink collects external datasets, decomposes the collected
entities into deduplicated statements and persists them transactionally
in a statement store.

Each dataset is declared in a YAML catalog file naming its source URL,
collection method and value mapping tables. Runs are isolated: a failed
run rolls back without disturbing the previously persisted state.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("datasink v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&datasetsDir, "datasets", "datasets", "directory holding dataset catalog files")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".data", "working directory for fetched and exported files")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "use the in-memory store instead of PostgreSQL")

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. The level comes from
// DATASINK_LOG_LEVEL so operators can raise verbosity without flags.
func newLogger() *slog.Logger {
	level := config.GetEnvLogLevel("DATASINK_LOG_LEVEL", slog.LevelInfo)

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
