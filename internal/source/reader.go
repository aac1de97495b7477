// Package source streams delimited files as records, one row at a time and in
// file order. It carries no business logic: interpreting fields is left to the
// normalize package.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInputNotFound = errors.New("input path not found")
	ErrNoInputFiles  = errors.New("no input files found")
)

// Options controls how a file is read.
type Options struct {
	// Header treats the first row of each file as column names.
	Header bool
	// Comma is the field delimiter; zero means ','.
	Comma rune
}

// Record is one row of a file. Fields is only valid until the next call to Next.
type Record struct {
	File   string
	Line   int
	Fields []string
	// Malformed is set for rows the CSV parser could not split into fields.
	Malformed bool
	header    map[string]int
}

// Field returns the i-th field, or "" when the row is shorter.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[i])
}

// Get returns the first non-empty field among the given column names.
// Names are matched case-insensitively against the header.
func (r Record) Get(names ...string) string {
	for _, name := range names {
		if idx, ok := r.header[normalizeColumn(name)]; ok {
			if v := r.Field(idx); v != "" {
				return v
			}
		}
	}
	return ""
}

// Has reports whether any of the names is a header column.
func (r Record) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := r.header[normalizeColumn(name)]; ok {
			return true
		}
	}
	return false
}

// Reader reads records lazily from a single file.
type Reader struct {
	path   string
	file   *os.File
	csv    *csv.Reader
	header map[string]int
	line   int
}

// Open opens path for reading. A missing file is reported as ErrInputNotFound.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true
	if opts.Comma != 0 {
		r.Comma = opts.Comma
	}

	reader := &Reader{path: path, file: f, csv: r}
	if opts.Header {
		head, err := r.Read()
		if err != nil {
			f.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to read header from %s: empty file", path)
			}
			return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
		}
		reader.line = 1
		reader.header = make(map[string]int, len(head))
		for i, name := range head {
			key := normalizeColumn(name)
			if _, dup := reader.header[key]; !dup {
				reader.header[key] = i
			}
		}
	}
	return reader, nil
}

// Next returns the next record, or io.EOF once the file is exhausted. A row
// that cannot be parsed is returned as a Malformed record so reading can go on.
func (r *Reader) Next() (Record, error) {
	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.line++
			return Record{File: r.path, Line: r.line, Malformed: true, header: r.header}, nil
		}
		return Record{}, fmt.Errorf("failed to read %s near line %d: %w", r.path, r.line+1, err)
	}
	r.line++
	return Record{File: r.path, Line: r.line, Fields: fields, header: r.header}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Files resolves path into the list of files to read. A directory yields its
// *.csv files in lexical order.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".csv") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputFiles, path)
	}
	sort.Strings(files)
	return files, nil
}

// Each calls fn for every record of every file under path, in order.
// Iteration stops at the first error returned by fn or by the reader.
func Each(ctx context.Context, path string, opts Options, fn func(Record) error) error {
	files, err := Files(path)
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := eachInFile(ctx, name, opts, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachInFile(ctx context.Context, name string, opts Options, fn func(Record) error) error {
	r, err := Open(name, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func normalizeColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.TrimSpace(name))
}
