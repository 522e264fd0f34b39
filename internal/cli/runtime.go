package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/datasink-io/datasink/internal/catalog"
	"github.com/datasink-io/datasink/internal/config"
	"github.com/datasink-io/datasink/internal/fetch"
	"github.com/datasink-io/datasink/internal/ingest"
	"github.com/datasink-io/datasink/internal/publish"
	"github.com/datasink-io/datasink/internal/storage"
)

// runtime bundles the collaborators every dataset command needs: the
// statement store, the download client and the optional Kafka publisher.
type runtime struct {
	logger    *slog.Logger
	store     ingest.Store
	fetcher   *fetch.Client
	publisher *publish.KafkaPublisher
	closers   []func() error
}

// newRuntime wires the store and collaborators from the environment. The
// --memory flag swaps PostgreSQL for the in-memory store, which is only
// useful for local experiments since its state dies with the process.
func newRuntime() (*runtime, error) {
	r := &runtime{
		logger:  newLogger(),
		fetcher: fetch.NewClient(fetch.LoadConfig()),
	}

	if useMemory {
		r.store = storage.NewMemoryStore()
	} else {
		conn, err := storage.NewConnection(storage.LoadConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store, err := storage.NewStatementStore(conn)
		if err != nil {
			_ = conn.Close()

			return nil, err
		}

		r.store = store
		r.closers = append(r.closers, store.Close)
	}

	if cfg := publish.LoadConfig(); cfg.Enabled() {
		publisher, err := publish.NewKafkaPublisher(cfg)
		if err != nil {
			_ = r.Close()

			return nil, err
		}

		r.publisher = publisher
		r.closers = append(r.closers, publisher.Close)
	}

	return r, nil
}

// contextOptions returns the ingest options shared by all commands.
func (r *runtime) contextOptions() []ingest.Option {
	var opts []ingest.Option

	if threshold := config.GetEnvInt("DATASINK_FLUSH_THRESHOLD", 0); threshold > 0 {
		opts = append(opts, ingest.WithFlushThreshold(threshold))
	}

	if r.publisher != nil {
		opts = append(opts, ingest.WithPublisher(r.publisher))
	}

	return opts
}

// Close releases all held connections.
func (r *runtime) Close() error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// selectDatasets loads the catalog and filters it to the named datasets,
// or returns the whole catalog when no names are given.
func selectDatasets(names []string) ([]*catalog.Dataset, error) {
	datasets, err := catalog.LoadAll(datasetsDir)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return datasets, nil
	}

	byName := make(map[string]*catalog.Dataset, len(datasets))
	for _, dataset := range datasets {
		byName[dataset.Name] = dataset
	}

	selected := make([]*catalog.Dataset, 0, len(names))

	for _, name := range names {
		dataset, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("dataset %s is not declared in %s", name, datasetsDir)
		}

		selected = append(selected, dataset)
	}

	return selected, nil
}
