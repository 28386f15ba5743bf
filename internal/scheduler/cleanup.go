package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
	"github.com/copp1723/onekeel-swarm/internal/registry"
)

// ErrInvalidRetention is returned for a negative maxAgeDays.
var ErrInvalidRetention = errors.New("retention days must be >= 0")

// CleanupOldExecutions deletes terminal executions whose terminal timestamp
// is older than maxAgeDays and returns how many were removed. Each batch is
// archived first when an archiver is configured; an archive failure stops
// the run before that batch is deleted. Active and paused executions are
// never touched.
func (s *Scheduler) CleanupOldExecutions(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, ErrInvalidRetention
	}
	start := s.clock.Now()
	cutoff := start.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	removed := 0
	defer func() { s.metrics.CleanupRemoved(removed) }()

	for {
		batch, err := s.registry.ListTerminalBefore(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return removed, fmt.Errorf("list terminal executions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, batch); err != nil {
				return removed, fmt.Errorf("archive %d executions: %w", len(batch), err)
			}
		}

		for _, exec := range batch {
			err := s.registry.Delete(ctx, exec.ID)
			if errors.Is(err, registry.ErrNotFound) {
				// deleted concurrently
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("delete execution %s: %w", exec.ID, err)
			}
			removed++
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	if removed > 0 {
		logger.Info("[Scheduler] cleanup removed terminal executions",
			"removed", removed, "max_age_days", maxAgeDays,
			"took", s.clock.Now().Sub(start).String())
	}
	return removed, nil
}
