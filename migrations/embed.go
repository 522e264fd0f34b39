// Package migrations embeds the database schema migrations and provides
// a runner for applying them. Migrations are compiled into the binary
// with go:embed, so deployments never depend on external SQL files.
package migrations

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedFiles embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Migration describes a single parsed migration file.
type Migration struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Set wraps an embedded migration filesystem with validation of filename
// format, up/down pairing, sequence continuity, and content checksums.
type Set struct {
	fs        fs.FS
	checksums map[string]string // filename -> sha256, populated on first Validate
}

// NewSet creates a Set over the given filesystem. Pass nil to use the
// migrations embedded in the binary.
func NewSet(filesystem fs.FS) *Set {
	if filesystem == nil {
		filesystem = embeddedFiles
	}

	return &Set{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// FS returns the underlying migration filesystem, suitable for use as a
// golang-migrate iofs source.
func (s *Set) FS() fs.FS {
	return s.fs
}

// List returns the names of all migration files that conform to the
// naming standard, in lexicographic order. Files with other names are
// ignored rather than applied in an undefined order.
func (s *Set) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	// Zero-padded sequence numbers make lexicographic order the
	// application order.
	sort.Strings(files)

	return files, nil
}

// Content returns the raw SQL of a single migration file.
func (s *Set) Content(filename string) ([]byte, error) {
	return fs.ReadFile(s.fs, filename)
}

// Validate checks the whole migration set: every file parses, every up
// has a down, sequence numbers start at 001 with no gaps, and contents
// match the checksums captured on the first validation pass.
func (s *Set) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	for _, file := range files {
		if _, err := s.Content(file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := s.validateFilenames(files); err != nil {
		return err
	}

	if err := s.validatePairing(files); err != nil {
		return err
	}

	if err := s.validateSequence(files); err != nil {
		return err
	}

	if len(s.checksums) > 0 {
		if err := s.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, file := range files {
		content, err := s.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		s.checksums[file] = checksum(content)
	}

	return nil
}

// MaxSequence returns the highest sequence number in the set, or 0 when
// the set cannot be read.
func (s *Set) MaxSequence() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	max := 0
	for _, file := range files {
		if m, err := parseFilename(file); err == nil && m.Sequence > max {
			max = m.Sequence
		}
	}

	return max
}

func parseFilename(filename string) (*Migration, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &Migration{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func (s *Set) validateFilenames(files []string) error {
	for _, file := range files {
		if _, err := parseFilename(file); err != nil {
			return fmt.Errorf("filename validation failed: %w", err)
		}
	}

	return nil
}

// validatePairing ensures every up migration has a matching down.
func (s *Set) validatePairing(files []string) error {
	pairs := make(map[string]map[string]*Migration) // sequence_name -> direction

	for _, file := range files {
		m, err := parseFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]*Migration)
		}
		pairs[key][m.Direction] = m
	}

	for key, directions := range pairs {
		if _, ok := directions["up"]; !ok {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}
		if _, ok := directions["down"]; !ok {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures numbering starts at 001 and has no gaps.
func (s *Set) validateSequence(files []string) error {
	seen := make(map[int]bool)
	for _, file := range files {
		m, err := parseFilename(file)
		if err != nil {
			return err
		}
		seen[m.Sequence] = true
	}

	var sequences []int
	for seq := range seen {
		sequences = append(sequences, seq)
	}
	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

func (s *Set) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := s.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s for checksum validation: %w", file, err)
		}

		if stored, ok := s.checksums[file]; ok && checksum(content) != stored {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
		}
	}

	return nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash)
}
