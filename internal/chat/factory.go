package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// NewStore picks a backend from the scheme of databaseURL. An empty URL
// selects the in-memory store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}
	var (
		store Store
		err   error
	)
	switch Backend(databaseURL) {
	case "postgres":
		store, err = NewPostgresStore(ctx, databaseURL)
	case "redis":
		store, err = NewRedisStore(ctx, databaseURL)
	case "mongo":
		store, err = NewMongoStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme in %q (expected postgres://, redis://, mongodb://)", redact(databaseURL))
	}
	if err != nil {
		return nil, fmt.Errorf("%s store (%s): %w", Backend(databaseURL), redact(databaseURL), err)
	}
	return store, nil
}

// Backend names the store selected for databaseURL.
func Backend(databaseURL string) string {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return "memory"
	}
	scheme, _, _ := strings.Cut(databaseURL, "://")
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres"
	case "redis", "rediss":
		return "redis"
	case "mongodb", "mongodb+srv":
		return "mongo"
	default:
		return "unknown"
	}
}

func databaseFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
