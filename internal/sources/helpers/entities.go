// Package helpers builds the composite entities that several sources
// share: postal addresses and sanction records linked to their subject.
package helpers

import (
	"strings"

	"github.com/datasink-io/datasink/internal/ingest"
)

// AddressParts are the components of a postal address. Empty fields are
// skipped; an all-empty address yields no entity.
type AddressParts struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

func (p AddressParts) summary() string {
	var parts []string

	for _, part := range []string{p.Street, p.City, p.Region, p.PostalCode, p.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return strings.Join(parts, ", ")
}

// MakeAddress builds an Address entity from its parts, identified by a
// slug over the full address text. Returns nil when every part is empty.
func MakeAddress(c *ingest.Context, parts AddressParts) *ingest.Entity {
	full := parts.summary()
	if full == "" {
		return nil
	}

	address := c.Make("Address", false)
	address.MakeSlug("addr", full)
	address.Add("full", full)
	address.Add("street", parts.Street)
	address.Add("city", parts.City)
	address.Add("region", parts.Region)
	address.Add("postalCode", parts.PostalCode)
	address.Add("country", parts.Country)

	return address
}

// MakeSanction builds a Sanction entity attached to the given subject.
// The key distinguishes multiple sanctions against one subject; an empty
// key yields the subject's single default sanction.
func MakeSanction(c *ingest.Context, subject *ingest.Entity, key string) *ingest.Entity {
	sanction := c.Make("Sanction", false)
	sanction.MakeSlug("sanction", subject.ID, key)
	sanction.Add("entity", subject.ID)
	sanction.Add("authority", c.Dataset().Title)

	return sanction
}
