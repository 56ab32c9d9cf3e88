// Package fasta reads and writes nucleotide FASTA files.
package fasta

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	polyfasta "github.com/TimothyStiles/poly/io/fasta"

	"covsim/internal/seq"
)

var (
	ErrMissingHeader = errors.New("fasta: sequence data before first header")
	ErrNoRecords     = errors.New("fasta: no records")
)

type Record struct {
	ID          string
	Description string
	Sequence    seq.Sequence
}

// Header is the header line without the leading '>'.
func (r Record) Header() string {
	if r.Description == "" {
		return r.ID
	}
	return r.ID + " " + r.Description
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Open returns a reader for path. "-" reads stdin; gzip input is detected by
// magic number or a ".gz" suffix.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var sig [2]byte
	n, _ := io.ReadFull(fh, sig[:])
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		_ = fh.Close()
		return nil, err
	}
	if (n == 2 && sig[0] == 0x1f && sig[1] == 0x8b) || strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		return gzipReadCloser{Reader: gr, file: fh}, nil
	}
	return fh, nil
}

func ReadFile(path string) ([]Record, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	records, err := Read(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// Read parses every record in r. Blank lines are skipped and sequence data
// before the first header is rejected; the records themselves are parsed by
// poly and validated against the nucleotide alphabet.
func Read(r io.Reader) ([]Record, error) {
	var (
		normalized bytes.Buffer
		inRec      bool
		lineNo     int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			inRec = true
		} else if !inRec {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingHeader)
		}
		normalized.Write(line)
		normalized.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inRec {
		return nil, nil
	}

	parsed, err := polyfasta.Parse(&normalized)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(parsed))
	for _, item := range parsed {
		id, desc := splitHeader(item.Name)
		s, err := seq.New([]byte(item.Sequence))
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", id, err)
		}
		records = append(records, Record{ID: id, Description: desc, Sequence: s})
	}
	return records, nil
}

func splitHeader(header string) (string, string) {
	fields := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(fields[1])
}

// First returns the first record of path.
func First(path string) (Record, error) {
	records, err := ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%s: %w", path, ErrNoRecords)
	}
	return records[0], nil
}

// Write emits records in poly's FASTA layout (sequence lines wrapped at 80
// columns).
func Write(w io.Writer, records []Record) error {
	items := make([]polyfasta.Fasta, 0, len(records))
	for _, rec := range records {
		items = append(items, polyfasta.Fasta{Name: rec.Header(), Sequence: rec.Sequence.String()})
	}
	data, err := polyfasta.Build(items)
	if err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}
