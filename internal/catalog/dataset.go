// Package catalog loads dataset definitions from YAML configuration.
//
// A dataset definition names the collection routine to run ("method"), the
// upstream source artifact, and the declarative lookup tables the routine may
// resolve raw field values against. The catalog carries metadata only; it
// never touches the store or the network.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/datasink-io/datasink/internal/lookup"
)

// Sentinel errors for dataset definition validation.
var (
	// ErrDatasetNameMissing is returned when a definition has no name.
	ErrDatasetNameMissing = errors.New("dataset name is required")

	// ErrDatasetMethodMissing is returned when a definition names no collection routine.
	ErrDatasetMethodMissing = errors.New("dataset method is required")

	// ErrUnknownLookup is returned when a routine asks for an undeclared lookup table.
	ErrUnknownLookup = errors.New("unknown lookup table")
)

type (
	// Source describes the upstream artifact a dataset is collected from.
	Source struct {
		URL    string `yaml:"url"`
		Format string `yaml:"format"`
	}

	// Dataset is a single dataset definition.
	Dataset struct {
		Name        string                   `yaml:"name"`
		Title       string                   `yaml:"title"`
		Description string                   `yaml:"description"`
		Method      string                   `yaml:"method"`
		Data        Source                   `yaml:"data"`
		Lookups     map[string]*lookup.Table `yaml:"lookups"`
	}
)

// Validate checks that a dataset definition is usable.
func (d *Dataset) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrDatasetNameMissing
	}

	if strings.TrimSpace(d.Method) == "" {
		return fmt.Errorf("%w: dataset %q", ErrDatasetMethodMissing, d.Name)
	}

	return nil
}

// Lookup returns the named mapping table declared by the dataset.
func (d *Dataset) Lookup(name string) (*lookup.Table, error) {
	table, ok := d.Lookups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in dataset %q", ErrUnknownLookup, name, d.Name)
	}

	return table, nil
}

// Load reads a single dataset definition from a YAML file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset definition %s: %w", path, err)
	}

	dataset := &Dataset{}
	if err := yaml.Unmarshal(data, dataset); err != nil {
		return nil, fmt.Errorf("failed to parse dataset definition %s: %w", path, err)
	}

	if dataset.Lookups == nil {
		dataset.Lookups = make(map[string]*lookup.Table)
	}

	// Tables learn their registry name so lookup failures can report it.
	for name, table := range dataset.Lookups {
		table.Name = name
	}

	if err := dataset.Validate(); err != nil {
		return nil, err
	}

	return dataset, nil
}

// LoadAll reads every *.yml and *.yaml dataset definition in a directory,
// returned sorted by dataset name for deterministic batch ordering.
func LoadAll(dir string) ([]*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory %s: %w", dir, err)
	}

	var datasets []*Dataset

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		dataset, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		datasets = append(datasets, dataset)
	}

	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].Name < datasets[j].Name
	})

	return datasets, nil
}
