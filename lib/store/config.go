package store

import (
	"fmt"
	"net/url"
	"strings"
)

// URL schemes understood by cstore.Open
const (
	SchemeMongo    = "mongodb"
	SchemeMongoSRV = "mongodb+srv"
	SchemeMemory   = "memory"
)

// ConnectionConfig describes the collection a store talks to. Kwargs are
// driver options that become connection string parameters, e.g. retryWrites,
// w, maxIdleTimeMS or serverSelectionTimeoutMS.
type ConnectionConfig struct {
	URL        string         `mapstructure:"url" json:"url"`
	Database   string         `mapstructure:"database" json:"database"`
	Collection string         `mapstructure:"collection" json:"collection"`
	Kwargs     map[string]any `mapstructure:"kwargs" json:"kwargs,omitempty"`
}

// Merge returns c overridden by every non-empty value of override.
// Kwargs are merged key by key, override wins.
func (c ConnectionConfig) Merge(override ConnectionConfig) ConnectionConfig {
	out := ConnectionConfig{
		URL:        c.URL,
		Database:   c.Database,
		Collection: c.Collection,
	}
	if override.URL != "" {
		out.URL = override.URL
	}
	if override.Database != "" {
		out.Database = override.Database
	}
	if override.Collection != "" {
		out.Collection = override.Collection
	}

	if len(c.Kwargs)+len(override.Kwargs) > 0 {
		out.Kwargs = make(map[string]any, len(c.Kwargs)+len(override.Kwargs))
		for k, v := range c.Kwargs {
			out.Kwargs[k] = v
		}
		for k, v := range override.Kwargs {
			out.Kwargs[k] = v
		}
	}
	return out
}

// Scheme validates the config and returns the scheme of its url
func (c ConnectionConfig) Scheme() (string, error) {
	if c.URL == "" {
		return "", NewError(RetCConnectionError, "no url configured")
	}
	if c.Database == "" || c.Collection == "" {
		return "", NewError(RetCConnectionError, "database and collection must be configured")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return "", WrapError(RetCConnectionError, err, "malformed url")
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case SchemeMongo, SchemeMongoSRV, SchemeMemory:
		return scheme, nil
	default:
		return "", NewError(RetCConnectionError, fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
}

// Redacted returns the url without password for logging
func (c ConnectionConfig) Redacted() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<malformed url>"
	}
	return u.Redacted()
}
