// Package archive keeps a copy of terminal executions before cleanup
// deletes them from the registry.
package archive

import (
	"context"
	"fmt"

	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/domain"
)

// Archiver stores executions. Archive must be all-or-nothing from the
// caller's point of view: a returned error means cleanup keeps the batch.
type Archiver interface {
	Archive(ctx context.Context, execs []*domain.Execution) error
}

// New builds the archiver selected by cfg.Type. It returns nil, nil when
// archiving is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		a, err := NewLocalArchive(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "aws":
		a, err := NewAWSArchive(ctx, cfg.S3Bucket, cfg.DynamoDBTable, cfg.AWSRegion, cfg.GetAWSProfile(), cfg.TTL())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS archive: %w", err)
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
}

// datePath is the yyyy/mm/dd partition an execution is filed under.
func datePath(e *domain.Execution) string {
	at := e.UpdatedAt
	if e.TerminalAt != nil {
		at = *e.TerminalAt
	}
	return at.UTC().Format("2006/01/02")
}
