package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datasink-io/datasink/internal/ingest"
	"github.com/datasink-io/datasink/internal/sources"
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl [dataset...]",
	Short: "Collect datasets and persist their statements",
	Long: `Crawl runs the collection routine of each named dataset, or of
every declared dataset when none are named.

A dataset failure rolls back its run and is recorded as an issue; the
batch continues with the next dataset. Interrupting the process stops
the batch after the current dataset has rolled back.

Example:
  datasink crawl
  datasink crawl us_bis_denied`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
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

	registry := sources.NewRegistry()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := 0

	for _, dataset := range datasets {
		fn, err := registry.Get(dataset.Method)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", dataset.Name, err)
		}

		c := ingest.New(dataset, rt.store, rt.fetcher, dataDir, rt.logger, rt.contextOptions()...)

		report, err := c.Crawl(ctx, fn)
		if err != nil {
			// Interruption or a failure to open the run. Either way the
			// batch cannot meaningfully continue.
			return err
		}

		if report.State == ingest.StateFailed {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d datasets failed", failed, len(datasets))
	}

	return nil
}
