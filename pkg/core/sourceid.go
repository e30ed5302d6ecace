package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// SourceID is the canonical string identity of a concrete source. Two source
// descriptors that canonicalize to the same SourceID refer to the same
// underlying source regardless of how the queries spell them.
type SourceID string

// DeriveSourceID computes the canonical identity of a source.
//
// Database sources use the connector-provided connection identity when the
// connector implements ConnectionIdentifier, serialized as canonical JSON;
// otherwise the raw connection string. Both forms carry a "sql:" prefix.
// HTTP sources reduce to their normalized origin (scheme, lowercased host,
// explicit port). File sources reduce to the cleaned absolute path, which
// resolves ".." segments and preserves UNC roots on platforms that have them.
func DeriveSourceID(s Source, connector Connector) (SourceID, error) {
	switch s.Type {
	case SourceDatabase:
		if ident, ok := connectionIdentity(connector, s.Connection); ok {
			canonical, err := canonicalJSON(ident)
			if err != nil {
				return "", fmt.Errorf("serializing connection identity: %w", err)
			}
			return SourceID("sql:" + canonical), nil
		}
		return SourceID("sql:" + s.Connection), nil
	case SourceHTTP:
		origin, err := normalizedOrigin(s.URL)
		if err != nil {
			return "", err
		}
		return SourceID(origin), nil
	case SourceCSV:
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			return "", fmt.Errorf("canonicalizing path %q: %w", s.Path, err)
		}
		return SourceID(filepath.Clean(abs)), nil
	}
	return "", &ValidationError{Msg: fmt.Sprintf("cannot derive source id for source type %q", s.Type)}
}

func connectionIdentity(connector Connector, connection string) (any, bool) {
	ider, ok := connector.(ConnectionIdentifier)
	if !ok {
		return nil, false
	}
	return ider.ConnectionIdentity(connection)
}

// canonicalJSON serializes a value with deterministic key order by round
// tripping through the generic JSON model, where maps marshal sorted.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// normalizedOrigin reduces a URL to scheme://host:port with the default port
// filled in and IPv6 hosts kept bracketed.
func normalizedOrigin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ValidationError{Msg: fmt.Sprintf("invalid url %q: %v", rawURL, err)}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &ValidationError{Msg: fmt.Sprintf("url %q has no origin", rawURL)}
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	if port == "" {
		return scheme + "://" + host, nil
	}
	return scheme + "://" + host + ":" + port, nil
}
