// Package fixture loads the chemical identifier dataset used to generate
// match queries.
//
// A fixture is a CSV file with a header row. Every record becomes a Row keyed
// by column name. The loaded Set is read-only and is shared by every virtual
// user of a run.
package fixture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPath is where the load-test dataset lives relative to the working directory.
const DefaultPath = "data/test_data/loadtest_pubchemlite.csv"

// Field names a fixture column holding a chemical identifier.
type Field string

const (
	InChIKey         Field = "InChIKey"
	InChI            Field = "InChI"
	SMILES           Field = "SMILES"
	MolecularFormula Field = "MolecularFormula"
)

// RequiredFields are the columns every fixture must provide.
var RequiredFields = []Field{InChIKey, InChI, SMILES, MolecularFormula}

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("fixture: missing required column")

	// ErrEmptyField is returned when a row has an empty required identifier.
	ErrEmptyField = errors.New("fixture: empty identifier")

	// ErrEmpty is returned when a fixture has a header but no usable rows.
	ErrEmpty = errors.New("fixture: no rows")
)

// ParseField converts a column name into a Field, ignoring case.
func ParseField(s string) (Field, error) {
	for _, f := range RequiredFields {
		if strings.EqualFold(string(f), strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown identifier field: %q", s)
}

// Row is one compound record, keyed by CSV header.
type Row map[string]string

// Get returns the value of an identifier field.
func (r Row) Get(f Field) string {
	return r[string(f)]
}

// Set is an ordered, read-only collection of rows.
type Set struct {
	path    string
	header  []string
	rows    []Row
	skipped int
}

// NewSet builds a Set from rows already in memory.
func NewSet(rows []Row) *Set {
	return &Set{rows: rows}
}

// Len returns the number of rows.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

// Row returns the i-th row. It panics when i is out of range.
func (s *Set) Row(i int) Row {
	return s.rows[i]
}

// Path returns the file the set was loaded from, if any.
func (s *Set) Path() string {
	return s.path
}

// Header returns the CSV columns in file order.
func (s *Set) Header() []string {
	out := make([]string, len(s.header))
	copy(out, s.header)
	return out
}

// Skipped returns how many incomplete rows were dropped while loading.
func (s *Set) Skipped() int {
	return s.skipped
}

// Options controls how a fixture is parsed.
type Options struct {
	// SkipIncomplete drops rows with an empty required identifier instead
	// of failing the whole load.
	SkipIncomplete bool
}

// Load reads and parses the fixture at path.
func Load(path string, opts Options) (*Set, error) {
	start := time.Now()
	logger := log.WithField("file", path)
	logger.Info("Reading fixture data")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to close fixture")
		}
	}()

	set, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	set.path = path

	logger.WithFields(log.Fields{
		"rows":    set.Len(),
		"skipped": set.skipped,
		"took":    time.Since(start).Round(time.Millisecond),
	}).Info("Loaded fixture data")
	return set, nil
}

// Parse reads a CSV stream with a header row into a Set.
func Parse(r io.Reader, opts Options) (*Set, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	if err := checkHeader(header); err != nil {
		return nil, err
	}

	set := &Set{header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		row := make(Row, len(header))
		for i, col := range header {
			row[col] = record[i]
		}

		if field, ok := firstEmpty(row); ok {
			if opts.SkipIncomplete {
				set.skipped++
				continue
			}
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: %s on line %d", ErrEmptyField, field, line)
		}

		set.rows = append(set.rows, row)
	}

	if len(set.rows) == 0 {
		return nil, ErrEmpty
	}
	return set, nil
}

func checkHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}

	var missing []string
	for _, f := range RequiredFields {
		if !present[string(f)] {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func firstEmpty(row Row) (Field, bool) {
	for _, f := range RequiredFields {
		if strings.TrimSpace(row.Get(f)) == "" {
			return f, true
		}
	}
	return "", false
}
