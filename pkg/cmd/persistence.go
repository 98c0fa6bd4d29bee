// Package cmd holds the wiring helpers shared by the service binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gestium/flowmail/pkg/persistence"
	"github.com/gestium/flowmail/pkg/persistence/file"
	"github.com/gestium/flowmail/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme: postgres for real deployments, file for development.
func NewPersistence(ctx context.Context, databaseURL string, logger *slog.Logger) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	return parts[0]
}
