package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bryanwahyu/fp16-analyzer/internal/application"
	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// releaseTimeout bounds workspace cleanup once the request context is gone.
const releaseTimeout = 30 * time.Second

// Service runs the analysis pipeline. It is safe for concurrent use: every
// request gets its own workspace, so no state is shared between calls.
type Service struct {
	Workspaces domain.WorkspaceManager
	Invoker    domain.Invoker
	Collector  domain.Collector
	Store      domain.ResultStore // optional
	Clock      application.Clock
	Logger     *zap.Logger

	// Limiter bounds concurrent tool runs. Nil means unbounded; a weight of 1
	// serializes every invocation.
	Limiter *semaphore.Weighted
}

// Parsed holds the structured forms of the text artifacts.
type Parsed struct {
	Report      *domain.MemoryReport
	FloatMap    domain.FloatMap
	Diagnostics []domain.Diagnostic
}

// Analyze runs the tool once against a fresh workspace and builds the result.
// Only infrastructure failures (workspace, spawn, timeout, cancellation) are
// returned as errors; everything else degrades the result.
func (s *Service) Analyze(ctx context.Context, req domain.Request) (*domain.Result, error) {
	log := s.logger()
	start := s.now()

	if s.Limiter != nil {
		if err := s.Limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: waiting for a tool slot: %v", domain.ErrInfrastructure, err)
		}
		defer s.Limiter.Release(1)
	}

	ws, err := s.Workspaces.Acquire(ctx, req)
	if err != nil {
		log.Error("workspace acquire failed", zap.String("filename", req.OriginalName), zap.Error(err))
		return nil, fmt.Errorf("acquire workspace: %w", err)
	}
	log = log.With(zap.String("analysis_id", string(ws.ID)))
	log.Info("analysis started", zap.String("filename", req.OriginalName), zap.Int("bytes", len(req.Source)))

	// run once, no retry
	inv, err := s.Invoker.Invoke(ctx, ws)
	if err != nil {
		log.Error("tool invocation aborted", zap.Error(err), zap.String("reason", inv.FailureReason))
		if rerr := s.release(ctx, ws); rerr != nil {
			log.Warn("workspace release failed", zap.Error(rerr))
		}
		return nil, err
	}

	arts := s.Collector.Collect(ctx, ws)
	releaseErr := s.release(ctx, ws)

	parsed := s.Parse(arts)
	res := Aggregate(inv, arts, parsed, req)
	res.ID = ws.ID
	res.CreatedAt = start
	res.DurationMS = s.now().Sub(start).Milliseconds()

	if releaseErr != nil {
		log.Warn("workspace release failed", zap.Error(releaseErr))
		res.AddDiagnostic(domain.PhaseRelease, "%v", releaseErr)
	}

	if s.Store != nil {
		if err := s.Store.Save(ctx, res); err != nil {
			log.Warn("result store save failed", zap.Error(err))
			res.AddDiagnostic(domain.PhaseStore, "%v", err)
		}
	}

	log.Info("analysis finished",
		zap.Bool("success", res.Success),
		zap.Int("exit_code", inv.ExitCode),
		zap.Bool("demoted_code", arts.DemotedCode != nil),
		zap.Bool("memory_report", arts.MemoryReport != nil),
		zap.Int("float_records", len(res.Analysis.JSONAnalysis)),
		zap.Int64("duration_ms", res.DurationMS),
	)
	return res, nil
}

// Get returns a stored result.
func (s *Service) Get(ctx context.Context, id domain.AnalysisID) (*domain.Result, error) {
	if s.Store == nil {
		return nil, domain.ErrNotFound
	}
	return s.Store.Get(ctx, id)
}

// Latest returns the most recent stored results, newest first.
func (s *Service) Latest(ctx context.Context, limit int) ([]*domain.Result, error) {
	if s.Store == nil {
		return []*domain.Result{}, nil
	}
	return s.Store.Latest(ctx, limit)
}

// Parse turns the text artifacts into structured records. A parse failure
// yields an empty value plus a diagnostic; it never aborts.
func (s *Service) Parse(arts domain.Artifacts) Parsed {
	log := s.logger()
	var p Parsed

	if arts.MemoryReport != nil {
		guard(&p, domain.PhaseMemoryReport, log, func() {
			p.Report = domain.ParseReport(*arts.MemoryReport)
			if p.Report.Empty() {
				p.Diagnostics = append(p.Diagnostics, domain.Diagnostic{
					Phase:   domain.PhaseMemoryReport,
					Message: "no recognized sections in " + domain.MemoryReportFile,
				})
			}
		})
		if p.Report == nil {
			p.Report = &domain.MemoryReport{}
		}
	}

	if arts.FloatMapRaw != nil {
		guard(&p, domain.PhaseFloatMap, log, func() {
			m, err := domain.ParseFloatMap(*arts.FloatMapRaw)
			if err != nil {
				log.Warn("float map unparseable after sanitizing", zap.Error(err))
				p.Diagnostics = append(p.Diagnostics, domain.Diagnostic{Phase: domain.PhaseFloatMap, Message: err.Error()})
				return
			}
			p.FloatMap = m
		})
		if p.FloatMap == nil {
			p.FloatMap = domain.FloatMap{}
		}
	}
	return p
}

// Aggregate combines the invocation outcome, artifacts and parse results.
// Success mirrors the invocation only; missing artifacts show up as absent
// fields instead.
func Aggregate(inv domain.InvocationResult, arts domain.Artifacts, parsed Parsed, req domain.Request) *domain.Result {
	res := &domain.Result{
		Success:          inv.Success,
		OriginalCode:     string(req.Source),
		OriginalFilename: req.OriginalName,
		PluginOutput: domain.PluginOutput{
			Stdout: inv.Stdout,
			Stderr: inv.Stderr,
		},
		Analysis: domain.Payload{
			DemotedCode:    arts.DemotedCode,
			MemoryAnalysis: arts.MemoryReport,
			JSONAnalysis:   parsed.FloatMap,
			MemoryReport:   parsed.Report,
		},
		Error:       inv.FailureReason,
		Diagnostics: append(append([]domain.Diagnostic(nil), arts.Diagnostics...), parsed.Diagnostics...),
	}

	if arts.DemotedCode != nil {
		diffs := domain.Diff(res.OriginalCode, *arts.DemotedCode)
		if diffs == nil {
			diffs = []domain.DiffEntry{}
		}
		res.Analysis.Differences = diffs
	}
	return res
}

func guard(p *Parsed, phase string, log *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("artifact parser panicked", zap.String("phase", phase), zap.Any("panic", r))
			p.Diagnostics = append(p.Diagnostics, domain.Diagnostic{Phase: phase, Message: fmt.Sprintf("parser panic: %v", r)})
		}
	}()
	fn()
}

func (s *Service) release(ctx context.Context, ws *domain.Workspace) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return s.Workspaces.Release(rctx, ws)
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
