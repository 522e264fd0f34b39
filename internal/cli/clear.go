package cli

import (
	"github.com/spf13/cobra"

	"github.com/datasink-io/datasink/internal/ingest"
)

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear <dataset>...",
	Short: "Delete all persisted state of datasets",
	Long: `Clear deletes every statement and issue recorded for the named
datasets. Fetched files in the working directory are left in place.

Example:
  datasink clear us_bis_denied`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
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

	for _, dataset := range datasets {
		c := ingest.New(dataset, rt.store, rt.fetcher, dataDir, rt.logger)

		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
	}

	return nil
}
