// Package usbis collects the US Bureau of Industry and Security denied
// persons list, published as a tab-separated file.
package usbis

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/datasink-io/datasink/internal/ingest"
	"github.com/datasink-io/datasink/internal/sources/helpers"
)

const resourceName = "dpl.tsv"

// Crawl downloads the denied persons list and emits one legal entity,
// its address and its sanction per row.
func Crawl(ctx context.Context, c *ingest.Context) error {
	path, err := c.FetchResource(ctx, resourceName, c.Dataset().Data.URL)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", resourceName, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", resourceName, err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("failed to read %s row: %w", resourceName, err)
		}

		if err := parseRow(ctx, c, rowMap(header, record)); err != nil {
			return err
		}
	}
}

func parseRow(ctx context.Context, c *ingest.Context, row map[string]string) error {
	country := c.LookupValue("country_codes", row["Country"],
		strings.ToLower(strings.TrimSpace(row["Country"])))

	entity := c.Make("LegalEntity", true)
	entity.MakeSlug(row["Effective_Date"], row["Name"])
	entity.Add("name", row["Name"])
	entity.Add("notes", row["Action"])
	entity.Add("country", country)
	entity.Add("modifiedAt", row["Last_Update"])

	address := helpers.MakeAddress(c, helpers.AddressParts{
		Street:     row["Street_Address"],
		City:       row["City"],
		Region:     row["State"],
		PostalCode: row["Postal_Code"],
		Country:    country,
	})
	if address != nil {
		entity.Add("addressEntity", address.ID)

		if err := c.Emit(ctx, address, ingest.WithTarget(true)); err != nil {
			return err
		}
	}

	if err := c.Emit(ctx, entity); err != nil {
		return err
	}

	sanction := helpers.MakeSanction(c, entity, row["FR_Citation"])
	sanction.Add("program", row["FR_Citation"])
	sanction.Add("startDate", parseDate(row["Effective_Date"]))
	sanction.Add("endDate", parseDate(row["Expiration_Date"]))

	return c.Emit(ctx, sanction)
}

func rowMap(header, record []string) map[string]string {
	row := make(map[string]string, len(header))

	for i, name := range header {
		if i < len(record) {
			row[strings.TrimSpace(name)] = strings.TrimSpace(record[i])
		}
	}

	return row
}

// parseDate converts the list's US-style dates to ISO form, dropping
// values that do not parse.
func parseDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := time.Parse("01/02/2006", raw)
	if err != nil {
		return ""
	}

	return parsed.Format("2006-01-02")
}
