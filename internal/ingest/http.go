package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// HTTPReader fetches JSON tables over HTTP. Two response shapes are
// accepted: a top-level array of objects, or an envelope with "columns"
// and "rows" arrays.
type HTTPReader struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPReader creates a reader. A nil client gets a 30 second timeout
// default.
func NewHTTPReader(client *http.Client, logger *slog.Logger) *HTTPReader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPReader{client: client, logger: logger}
}

// Read fetches url with the given method (GET when empty) and decodes the
// response body into a table.
func (r *HTTPReader) Read(ctx context.Context, method, url string) (*core.DataTable, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching http source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http source %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading http response: %w", err)
	}

	table, err := decodeJSONTable(body)
	if err != nil {
		return nil, fmt.Errorf("decoding http source %s: %w", url, err)
	}
	r.logger.Debug("http source loaded", "url", url, "rows", len(table.Rows))
	return table, nil
}

type tableEnvelope struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func decodeJSONTable(body []byte) (*core.DataTable, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var objects []map[string]any
		if err := json.Unmarshal(body, &objects); err != nil {
			return nil, fmt.Errorf("parsing row objects: %w", err)
		}
		return tableFromObjects(objects)
	}

	var env tableEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing table envelope: %w", err)
	}
	if len(env.Columns) == 0 {
		return nil, fmt.Errorf("table envelope has no columns")
	}
	table := &core.DataTable{Columns: make([]core.Column, len(env.Columns))}
	for i, name := range env.Columns {
		table.Columns[i] = core.Column{Name: name, Type: scalar.Any}
	}
	for _, row := range env.Rows {
		if err := table.AppendRow(core.Row(row)); err != nil {
			return nil, err
		}
	}
	table.InferColumnTypes()
	return table, nil
}

// tableFromObjects builds a table from an array of JSON objects. Column order
// follows first appearance across the objects; ties within one object sort by
// name so the result is deterministic.
func tableFromObjects(objects []map[string]any) (*core.DataTable, error) {
	var names []string
	seen := make(map[string]bool)
	for _, obj := range objects {
		fresh := make([]string, 0, len(obj))
		for name := range obj {
			if !seen[name] {
				seen[name] = true
				fresh = append(fresh, name)
			}
		}
		sort.Strings(fresh)
		names = append(names, fresh...)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("row objects have no fields")
	}

	table := &core.DataTable{Columns: make([]core.Column, len(names))}
	for i, name := range names {
		table.Columns[i] = core.Column{Name: name, Type: scalar.Any}
	}
	for _, obj := range objects {
		row := make(core.Row, len(names))
		for i, name := range names {
			row[i] = obj[name]
		}
		if err := table.AppendRow(row); err != nil {
			return nil, err
		}
	}
	table.InferColumnTypes()
	return table, nil
}
