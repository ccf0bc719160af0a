// Package ingest reads supplier records produced by the scrapers.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/angelmondragon/catalogsync/internal/catalog"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
)

// Source yields records one at a time. Next returns io.EOF once the stream is
// exhausted. Any other error belongs to the current record only; callers keep
// calling Next.
type Source interface {
	Next(ctx context.Context) (catalog.Record, error)
}

// JSONLines decodes one record per line. Blank lines are skipped.
type JSONLines struct {
	r      *bufio.Reader
	closer io.Closer
	line   int
}

func NewJSONLines(r io.Reader) *JSONLines {
	return &JSONLines{r: bufio.NewReaderSize(r, 64*1024)}
}

// OpenFile opens path as a JSONLines source. Close releases the file.
func OpenFile(path string) (*JSONLines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src := NewJSONLines(f)
	src.closer = f
	return src, nil
}

func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Line is the number of the last line returned by Next.
func (s *JSONLines) Line() int {
	return s.line
}

func (s *JSONLines) Next(ctx context.Context) (catalog.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return catalog.Record{}, err
		}
		raw, err := s.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return catalog.Record{}, io.EOF
			}
			return catalog.Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read record stream")
		}
		s.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var rec catalog.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return catalog.Record{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed record").
				WithDetails(map[string]any{"line": s.line})
		}
		return rec, nil
	}
}

// Slice serves records from memory.
type Slice struct {
	records []catalog.Record
	pos     int
}

func NewSlice(records ...catalog.Record) *Slice {
	return &Slice{records: records}
}

func (s *Slice) Next(ctx context.Context) (catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Record{}, err
	}
	if s.pos >= len(s.records) {
		return catalog.Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
