// Package ingest materializes non-database sources into tables: delimited
// files from the local filesystem and JSON tables fetched over HTTP.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// CSVReader loads delimited files into tables. The first record is the
// header; column types are inferred from the data.
type CSVReader struct {
	logger *slog.Logger

	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// InferSampleSize bounds how many rows feed type inference per column.
	// Zero means every row.
	InferSampleSize int
}

// NewCSVReader creates a reader with default settings.
func NewCSVReader(logger *slog.Logger) *CSVReader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CSVReader{logger: logger}
}

// Read loads the file at path into a table.
func (r *CSVReader) Read(ctx context.Context, path string) (*core.DataTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv source: %w", err)
	}
	defer f.Close()
	return r.readFrom(ctx, f, path)
}

func (r *CSVReader) readFrom(ctx context.Context, src io.Reader, name string) (*core.DataTable, error) {
	cr := csv.NewReader(src)
	if r.Comma != 0 {
		cr.Comma = r.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv source %s is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	table := &core.DataTable{Columns: make([]core.Column, len(header))}
	for i, h := range header {
		table.Columns[i] = core.Column{Name: strings.TrimSpace(h), Type: scalar.Any}
	}

	var raw [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("csv read canceled: %w", err)
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", len(raw)+2, err)
		}
		raw = append(raw, record)
	}

	for i := range table.Columns {
		table.Columns[i].Type = r.inferColumn(raw, i)
	}
	for _, record := range raw {
		row := make(core.Row, len(table.Columns))
		for i := range table.Columns {
			var cell string
			if i < len(record) {
				cell = record[i]
			}
			row[i] = parseCell(cell, table.Columns[i].Type)
		}
		if err := table.AppendRow(row); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("csv source loaded", "path", name, "rows", len(table.Rows), "columns", len(table.Columns))
	return table, nil
}

func (r *CSVReader) inferColumn(raw [][]string, col int) scalar.Kind {
	limit := len(raw)
	if r.InferSampleSize > 0 && r.InferSampleSize < limit {
		limit = r.InferSampleSize
	}
	samples := make([]any, 0, limit)
	for _, record := range raw[:limit] {
		if col >= len(record) {
			samples = append(samples, nil)
			continue
		}
		samples = append(samples, parseCell(record[col], scalar.Any))
	}
	return scalar.InferKind(samples)
}

// parseCell converts one text cell into a typed value. Empty cells are null.
// With an Any target the cell is probed in order: boolean, number, timestamp,
// text.
// With a concrete target kind a failed parse falls back to the raw text so no
// data is silently dropped.
func parseCell(cell string, target scalar.Kind) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}

	switch target {
	case scalar.Boolean:
		if b, ok := parseBool(trimmed); ok {
			return b
		}
	case scalar.Number:
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	case scalar.Date, scalar.DateTime, scalar.DateTimeZone:
		if t, ok := parseTime(trimmed); ok {
			return t
		}
	case scalar.Text:
		return trimmed
	case scalar.Any:
		if b, ok := parseBool(trimmed); ok {
			return b
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
		if t, ok := parseTime(trimmed); ok {
			return t
		}
	}
	return trimmed
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
