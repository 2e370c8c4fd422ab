package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/dukex/crmflow/pkg/suppression"
)

// NewPersistence picks the store from the URL scheme: postgres:// or postgresql:// for
// PostgreSQL, anything else (file://dir or a bare path) for JSON files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

// NewSuppression returns a Redis-backed list when url is set, else an in-memory one.
func NewSuppression(ctx context.Context, url string, logger *slog.Logger) (suppression.List, error) {
	if url == "" {
		return suppression.NewMemoryList(), nil
	}

	list, err := suppression.NewRedisList(ctx, url, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open suppression list: %w", err)
	}

	return list, nil
}
