package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// Retention decides what happens to a workspace on release.
type Retention string

const (
	RetainDelete  Retention = "delete"
	RetainKeep    Retention = "keep"
	RetainArchive Retention = "archive"
)

// Manager hands out one fresh directory per request under Root. Directory
// names come from a random UUID, never from the uploaded filename.
type Manager struct {
	root      string
	retention Retention
	archiver  domain.Archiver
	log       *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewManager builds a manager; call Init once at process start.
func NewManager(root string, retention Retention, archiver domain.Archiver, log *zap.Logger) *Manager {
	if retention == "" {
		retention = RetainDelete
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{root: root, retention: retention, archiver: archiver, log: log}
}

// Root returns the absolute directory workspaces are created under.
func (m *Manager) Root() string { return m.root }

// Init creates the root directory. It is idempotent; repeated calls return
// the first outcome.
func (m *Manager) Init() error {
	m.initOnce.Do(func() {
		abs, err := filepath.Abs(m.root)
		if err != nil {
			m.initErr = fmt.Errorf("%w: resolve workspace root: %v", domain.ErrInfrastructure, err)
			return
		}
		m.root = abs
		if err := os.MkdirAll(abs, 0o755); err != nil {
			m.initErr = fmt.Errorf("%w: create workspace root: %v", domain.ErrInfrastructure, err)
			return
		}
		if m.retention == RetainArchive && m.archiver == nil {
			m.initErr = fmt.Errorf("%w: archive retention needs an archiver", domain.ErrInfrastructure)
		}
	})
	return m.initErr
}

// Acquire creates the request's directory and writes the source into it.
func (m *Manager) Acquire(ctx context.Context, req domain.Request) (*domain.Workspace, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}

	id := domain.AnalysisID(uuid.NewString())
	dir := filepath.Join(m.root, string(id))
	// Mkdir, not MkdirAll: an existing directory is a collision and must fail.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", domain.ErrInfrastructure, err)
	}

	ws := &domain.Workspace{
		ID:           id,
		Dir:          dir,
		SourceFile:   domain.SourceFileName(req.OriginalName),
		OriginalName: req.OriginalName,
	}
	if err := os.WriteFile(filepath.Join(dir, ws.SourceFile), req.Source, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: write source: %v", domain.ErrInfrastructure, err)
	}

	m.log.Debug("workspace acquired", zap.String("analysis_id", string(id)), zap.String("dir", dir))
	return ws, nil
}

// Release applies the retention policy. With archive retention a failed
// upload leaves the directory in place for inspection.
func (m *Manager) Release(ctx context.Context, ws *domain.Workspace) error {
	if ws == nil || ws.Dir == "" {
		return nil
	}
	if filepath.Dir(ws.Dir) != m.root {
		return fmt.Errorf("%w: workspace %s is outside %s", domain.ErrInfrastructure, ws.Dir, m.root)
	}

	switch m.retention {
	case RetainKeep:
		m.log.Debug("workspace kept", zap.String("analysis_id", string(ws.ID)), zap.String("dir", ws.Dir))
		return nil
	case RetainArchive:
		n, err := m.archiver.ArchiveDir(ctx, ws.Dir, string(ws.ID))
		if err != nil {
			return fmt.Errorf("%w: archive workspace %s: %v", domain.ErrInfrastructure, ws.ID, err)
		}
		m.log.Debug("workspace archived", zap.String("analysis_id", string(ws.ID)), zap.Int("files", n))
	}

	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("%w: remove workspace %s: %v", domain.ErrInfrastructure, ws.ID, err)
	}
	return nil
}
