package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// DefaultMaxBytes caps how much of a single artifact is read.
const DefaultMaxBytes = 16 << 20

// Collector reads the plugin's output files from a workspace. Any file may be
// missing. A file that exists but cannot be used is treated as absent and
// reported as a collect diagnostic.
type Collector struct {
	MaxBytes int64
	Logger   *zap.Logger
}

func NewCollector(log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{MaxBytes: DefaultMaxBytes, Logger: log}
}

// Collect never fails.
func (c *Collector) Collect(ctx context.Context, ws *domain.Workspace) domain.Artifacts {
	log := c.logger().With(zap.String("analysis_id", string(ws.ID)))
	var a domain.Artifacts
	a.DemotedCode = c.read(log, &a, ws.Dir, domain.DemotedCodeFile, true)
	a.MemoryReport = c.read(log, &a, ws.Dir, domain.MemoryReportFile, true)
	// encoding quirks in the float map are repaired by the sanitizer
	a.FloatMapRaw = c.read(log, &a, ws.Dir, domain.FloatMapFile, false)
	return a
}

func (c *Collector) read(log *zap.Logger, a *domain.Artifacts, dir, name string, strictUTF8 bool) *string {
	b, err := c.readFile(filepath.Join(dir, name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("artifact absent", zap.String("file", name))
		return nil
	case err != nil:
		log.Warn("artifact unreadable", zap.String("file", name), zap.Error(err))
		a.Diagnostics = append(a.Diagnostics, domain.Diagnostic{
			Phase:   domain.PhaseCollect,
			Message: fmt.Sprintf("%s: %v", name, err),
		})
		return nil
	}

	b = trimBOM(b)
	if strictUTF8 && !utf8.Valid(b) {
		log.Warn("artifact is not valid UTF-8", zap.String("file", name))
		a.Diagnostics = append(a.Diagnostics, domain.Diagnostic{
			Phase:   domain.PhaseCollect,
			Message: name + ": not valid UTF-8",
		})
		return nil
	}
	s := string(b)
	return &s
}

func (c *Collector) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}

	max := c.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}
	b, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%s exceeds %d bytes", filepath.Base(path), max)
	}
	return b, nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func (c *Collector) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
