package analysis

import "context"

// WorkspaceManager allocates and releases per-request directories.
type WorkspaceManager interface {
	Acquire(ctx context.Context, req Request) (*Workspace, error)
	Release(ctx context.Context, ws *Workspace) error
}

// Invoker runs the external tool against a workspace. A non-nil error means
// the invocation could not be judged complete (spawn failure, timeout); the
// returned result still carries whatever output was captured.
type Invoker interface {
	Invoke(ctx context.Context, ws *Workspace) (InvocationResult, error)
}

// Collector reads the tool's artifacts; it never fails.
type Collector interface {
	Collect(ctx context.Context, ws *Workspace) Artifacts
}

// ResultStore keeps completed results for later retrieval.
type ResultStore interface {
	Save(ctx context.Context, r *Result) error
	Get(ctx context.Context, id AnalysisID) (*Result, error)
	Latest(ctx context.Context, limit int) ([]*Result, error)
}

// Archiver copies a workspace somewhere durable before it is deleted.
type Archiver interface {
	ArchiveDir(ctx context.Context, dir, prefix string) (int, error)
}
