package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// LocalArchive writes one JSON file per execution under
// <dir>/executions/yyyy/mm/dd/<id>.json.
type LocalArchive struct {
	dir string
	mu  sync.Mutex
}

func NewLocalArchive(dir string) (*LocalArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{dir: dir}, nil
}

func (a *LocalArchive) Archive(ctx context.Context, execs []*domain.Execution) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range execs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.write(e); err != nil {
			return err
		}
	}
	logger.Debug("[Archive] wrote executions", "count", len(execs), "dir", a.dir)
	return nil
}

// write goes through a temp file so a crash never leaves a half-written
// record behind.
func (a *LocalArchive) write(e *domain.Execution) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling execution %s: %w", e.ID, err)
	}

	path := a.Path(e)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Path is where e is (or would be) archived.
func (a *LocalArchive) Path(e *domain.Execution) string {
	return filepath.Join(a.dir, "executions", filepath.FromSlash(datePath(e)), e.ID+".json")
}
