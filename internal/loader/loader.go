// Package loader reads persisted query definitions. Each *.query.yaml file
// holds one query; parsing is strict, so unknown fields are errors rather
// than silently dropped pipeline content.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/pkg/core"
)

// QueryFileSuffix is the filename suffix of persisted query definitions.
const QueryFileSuffix = ".query.yaml"

// ParseError reports a malformed query file with its location.
type ParseError struct {
	File string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

// Loader reads query definitions from the filesystem.
type Loader struct {
	logger *slog.Logger
}

// New creates a loader. A nil logger discards log output.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger}
}

// LoadFile parses one query definition file.
func (l *Loader) LoadFile(path string) (*core.Query, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	return l.parse(path, raw)
}

func (l *Loader) parse(path string, raw []byte) (*core.Query, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var q core.Query
	if err := dec.Decode(&q); err != nil {
		return nil, &ParseError{File: path, Msg: err.Error()}
	}
	// A second document in the file means someone concatenated definitions;
	// one query per file keeps IDs and filenames aligned.
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, &ParseError{File: path, Msg: "query file must contain exactly one document"}
	}

	if err := q.Validate(); err != nil {
		return nil, &ParseError{File: path, Msg: err.Error()}
	}
	l.logger.Debug("query loaded", "file", path, "query", q.ID, "steps", len(q.Steps))
	return &q, nil
}

// LoadDir loads every *.query.yaml under dir, recursively, keyed by query ID.
func (l *Loader) LoadDir(dir string) (map[string]*core.Query, error) {
	queries := make(map[string]*core.Query)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), QueryFileSuffix) {
			return nil
		}
		q, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		if prev, ok := queries[q.ID]; ok {
			return &ParseError{File: path, Msg: fmt.Sprintf("duplicate query id %q (already defined as %q)", q.ID, prev.Name)}
		}
		queries[q.ID] = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queries, nil
}
