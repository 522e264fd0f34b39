package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datasink-io/datasink/internal/export"
	"github.com/datasink-io/datasink/internal/ingest"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [dataset...]",
	Short: "Write statement and index files for datasets",
	Long: `Export renders the persisted statements of each named dataset, or
of every declared dataset when none are named, into files in the dataset
working directory: statements.csv and index.json.

Example:
  datasink export us_bis_denied`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	datasets, err := selectDatasets(args)
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dataset := range datasets {
		c := ingest.New(dataset, rt.store, rt.fetcher, dataDir, rt.logger)

		if err := c.Export(ctx, export.Artifacts); err != nil {
			return err
		}
	}

	return nil
}
