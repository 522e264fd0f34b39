// Package export renders the persisted state of a dataset into files in
// the dataset working directory: a CSV of all statements and a JSON index
// describing the dataset and its registered artifacts.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/datasink-io/datasink/internal/ingest"
)

const (
	statementsFile = "statements.csv"
	indexFile      = "index.json"
)

var csvHeader = []string{
	"dataset", "entity_id", "prop", "value", "schema",
	"unique", "target", "run_id", "first_seen", "last_seen",
}

// index is the shape of index.json.
type index struct {
	Name        string             `json:"name"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Statements  int                `json:"statements"`
	Entities    int                `json:"entities"`
	Targets     int                `json:"targets"`
	Resources   []*ingest.Resource `json:"resources"`
}

// Artifacts writes statements.csv and index.json for the dataset and
// registers both as resources. It satisfies ingest.ExportFunc.
func Artifacts(ctx context.Context, c *ingest.Context) error {
	statements, err := c.Statements(ctx)
	if err != nil {
		return err
	}

	if err := writeStatementsCSV(ctx, c, statements); err != nil {
		return err
	}

	return writeIndex(ctx, c, statements)
}

func writeStatementsCSV(ctx context.Context, c *ingest.Context, statements []*ingest.Statement) error {
	path := c.ResourcePath(statementsFile)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", statementsFile, err)
	}

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, stmt := range statements {
		record := []string{
			stmt.Dataset,
			stmt.EntityID,
			stmt.Prop,
			stmt.Value,
			stmt.Schema,
			strconv.FormatBool(stmt.Unique),
			strconv.FormatBool(stmt.Target),
			stmt.RunID,
			stmt.FirstSeen.UTC().Format(time.RFC3339),
			stmt.LastSeen.UTC().Format(time.RFC3339),
		}

		if err := writer.Write(record); err != nil {
			_ = file.Close()

			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", statementsFile, err)
	}

	return c.ExportResource(ctx, path, "", "Statements CSV export")
}

// writeIndex must run after the CSV export so the index lists it.
func writeIndex(ctx context.Context, c *ingest.Context, statements []*ingest.Statement) error {
	resources, err := c.Resources(ctx)
	if err != nil {
		return err
	}

	entities := make(map[string]bool)
	targets := make(map[string]bool)

	for _, stmt := range statements {
		entities[stmt.EntityID] = true
		if stmt.Target {
			targets[stmt.EntityID] = true
		}
	}

	dataset := c.Dataset()
	idx := &index{
		Name:        dataset.Name,
		Title:       dataset.Title,
		Description: dataset.Description,
		UpdatedAt:   time.Now().UTC(),
		Statements:  len(statements),
		Entities:    len(entities),
		Targets:     len(targets),
		Resources:   resources,
	}

	payload, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	path := c.ResourcePath(indexFile)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", indexFile, err)
	}

	return c.ExportResource(ctx, path, "", "Dataset index")
}
