package store

import (
	"fmt"
	"net/url"
)

// WithDBName returns the DSN with its database path swapped for name,
// keeping credentials, host and query parameters intact. Only the URL
// form the config layer assembles is accepted.
func WithDBName(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + name
	return u.String(), nil
}
