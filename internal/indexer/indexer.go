// Package indexer defines the repository-indexing boundary. Actual
// indexing happens in an external system; the dispatcher only needs to
// request a full index or an incremental refresh.
package indexer

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Indexer receives indexing requests for installed repositories.
type Indexer interface {
	// IndexRepository performs a full indexing pass over a repository.
	IndexRepository(ctx context.Context, repoFullName string, installationID int64) error
	// RefreshIndex incrementally updates an existing index.
	RefreshIndex(ctx context.Context, repoFullName string, installationID int64) error
}

// LogIndexer is the default stand-in used when no indexing backend is
// wired: it records the request and succeeds.
type LogIndexer struct{}

func (LogIndexer) IndexRepository(ctx context.Context, repoFullName string, installationID int64) error {
	log.Info().
		Str("repo", repoFullName).
		Int64("installation_id", installationID).
		Msg("Full repository index requested")
	return nil
}

func (LogIndexer) RefreshIndex(ctx context.Context, repoFullName string, installationID int64) error {
	log.Info().
		Str("repo", repoFullName).
		Int64("installation_id", installationID).
		Msg("Index refresh requested")
	return nil
}
