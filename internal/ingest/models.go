// Package ingest implements the per-dataset ingestion runtime: emitted
// entities are decomposed into atomic statements, deduplicated in a bounded
// buffer, and batch-upserted into the store under a run-scoped transaction.
package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

type (
	// Statement is the atomic unit of persisted knowledge: one
	// (entity, property, value) fact with provenance.
	Statement struct {
		Dataset   string    `json:"dataset"`
		EntityID  string    `json:"entity_id"`
		Prop      string    `json:"prop"`
		Value     string    `json:"value"`
		Schema    string    `json:"schema"`
		Unique    bool      `json:"unique"`
		Target    bool      `json:"target"`
		RunID     string    `json:"run_id"`
		FirstSeen time.Time `json:"first_seen"`
		LastSeen  time.Time `json:"last_seen"`
	}

	// Key identifies a statement within one run's buffer. Within a run the
	// triple is unique: later emissions for the same key replace earlier ones.
	Key struct {
		EntityID string
		Prop     string
		Value    string
	}

	// Entity is a schema-typed bundle of property values produced by a
	// collection routine. Its identifier is derived deterministically from
	// caller-supplied seed values, so re-runs on unchanged input produce the
	// same identifier.
	Entity struct {
		Schema  string
		ID      string
		Target  bool
		Dataset string

		props map[string][]string
	}

	// Resource is a registered file artifact belonging to a dataset run.
	// Path is relative to the dataset working directory, POSIX-style.
	Resource struct {
		Dataset   string    `json:"dataset"`
		Path      string    `json:"path"`
		Checksum  string    `json:"checksum"`
		MimeType  string    `json:"mime_type"`
		Title     string    `json:"title"`
		Size      int64     `json:"size"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Issue is a structured record of a problem encountered during a run.
	// Issues for a dataset are cleared at the start of every run and
	// re-populated as the run proceeds.
	Issue struct {
		Dataset   string            `json:"dataset"`
		Level     string            `json:"level"`
		Message   string            `json:"message"`
		Data      map[string]string `json:"data"`
		Timestamp time.Time         `json:"timestamp"`
	}
)

// Issue levels.
const (
	LevelWarning = "warning"
	LevelError   = "error"
)

// Key returns the buffer deduplication key for the statement.
func (s *Statement) Key() Key {
	return Key{EntityID: s.EntityID, Prop: s.Prop, Value: s.Value}
}

// Add appends values to a property. Empty and whitespace-only values are
// ignored; duplicate values for the same property are collapsed.
func (e *Entity) Add(prop string, values ...string) {
	if e.props == nil {
		e.props = make(map[string][]string)
	}

	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		if !containsValue(e.props[prop], value) {
			e.props[prop] = append(e.props[prop], value)
		}
	}
}

// Properties returns the entity's property names in sorted order.
func (e *Entity) Properties() []string {
	props := make([]string, 0, len(e.props))
	for prop := range e.props {
		props = append(props, prop)
	}

	sort.Strings(props)

	return props
}

// Values returns the values recorded for a property, in emission order.
func (e *Entity) Values(prop string) []string {
	return e.props[prop]
}

// First returns the first value recorded for a property, or "".
func (e *Entity) First(prop string) string {
	if values := e.props[prop]; len(values) > 0 {
		return values[0]
	}

	return ""
}

// HasProperties reports whether any property value has been added.
func (e *Entity) HasProperties() bool {
	return len(e.props) > 0
}

// MakeSlug derives the entity identifier from the given seed parts, prefixed
// with the owning dataset name. Parts that cannot be slugified contribute a
// short content hash instead, keeping the identifier stable and legible.
func (e *Entity) MakeSlug(parts ...string) {
	e.ID = makeSlug(e.Dataset, parts)
}

func makeSlug(prefix string, parts []string) string {
	segments := []string{prefix}

	var raw []string

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		raw = append(raw, part)

		if slug := slugify(part); slug != "" {
			segments = append(segments, slug)
		}
	}

	if len(raw) == 0 {
		return ""
	}

	// Nothing slugifiable (e.g. non-Latin seeds): fall back to a digest of
	// the raw parts so the identifier stays deterministic.
	if len(segments) == 1 {
		digest := sha1.Sum([]byte(strings.Join(raw, "\x1f")))
		segments = append(segments, hex.EncodeToString(digest[:])[:12])
	}

	return strings.Join(segments, "-")
}

func slugify(value string) string {
	var b strings.Builder

	lastDash := true

	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')

				lastDash = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

func containsValue(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}
