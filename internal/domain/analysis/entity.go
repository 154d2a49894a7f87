package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// AnalysisID identifies one analysis request and its workspace.
type AnalysisID string

// Well-known artifact filenames written by the demotion plugin.
const (
	DemotedCodeFile  = "demoted.c"
	MemoryReportFile = "memory_analysis.txt"
	FloatMapFile     = "float_map.json"
	DefaultSourceExt = ".c"
)

// SourceFileName is the deterministic name the source is materialized under
// inside a workspace. Only the extension of the original name survives, so the
// compiler still picks the right language.
func SourceFileName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" || strings.ContainsAny(ext, `/\ `) {
		ext = DefaultSourceExt
	}
	return "source" + ext
}

// Request is one submitted source file.
type Request struct {
	Source       []byte
	OriginalName string
}

// Workspace is a directory owned by exactly one in-flight request.
type Workspace struct {
	ID           AnalysisID
	Dir          string
	SourceFile   string // base name of the materialized source inside Dir
	OriginalName string
}

// InvocationResult is the outcome of running the external tool once.
type InvocationResult struct {
	Success       bool
	Stdout        string
	Stderr        string
	FailureReason string
	ExitCode      int
	Truncated     bool
	Duration      time.Duration
}

// Artifacts holds whatever files the tool managed to write. Nil means absent.
// Diagnostics records files that existed but could not be used.
type Artifacts struct {
	DemotedCode  *string
	MemoryReport *string
	FloatMapRaw  *string
	Diagnostics  []Diagnostic
}

// Empty reports whether the tool wrote none of the artifacts.
func (a Artifacts) Empty() bool {
	return a.DemotedCode == nil && a.MemoryReport == nil && a.FloatMapRaw == nil
}

// FlexString accepts a JSON string or a JSON number and keeps its text.
// The plugin emits literal values as bare numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// FloatRecord is one entry of float_map.json.
type FloatRecord struct {
	Value    FlexString `json:"value"`
	Location string     `json:"location"`
	Safe     bool       `json:"safe"`
	Reason   string     `json:"reason,omitempty"`
	Downcast FlexString `json:"downcast,omitempty"`
	Error    FlexString `json:"error,omitempty"`
	Mode     string     `json:"mode,omitempty"`
}

// FloatMap preserves the order the tool emitted records in.
type FloatMap []FloatRecord

// Counts returns how many records were judged safe and unsafe.
func (m FloatMap) Counts() (safe, unsafe int) {
	for _, r := range m {
		if r.Safe {
			safe++
		} else {
			unsafe++
		}
	}
	return safe, unsafe
}

// Diagnostic records a non-fatal problem hit while building a result.
type Diagnostic struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// Diagnostic phases.
const (
	PhaseCollect      = "collect"
	PhaseFloatMap     = "float_map"
	PhaseMemoryReport = "memory_report"
	PhaseStore        = "store"
	PhaseRelease      = "release"
)

// PluginOutput is the tool's captured console output.
type PluginOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Payload groups the artifact-derived fields of a result.
type Payload struct {
	DemotedCode    *string       `json:"demotedCode,omitempty"`
	MemoryAnalysis *string       `json:"memoryAnalysis,omitempty"`
	JSONAnalysis   FloatMap      `json:"jsonAnalysis,omitzero"`
	MemoryReport   *MemoryReport `json:"memoryReport,omitempty"`
	Differences    []DiffEntry   `json:"differences,omitzero"`
}

// Result is the record returned to presentation layers.
type Result struct {
	ID               AnalysisID   `json:"id"`
	Success          bool         `json:"success"`
	OriginalCode     string       `json:"originalCode"`
	OriginalFilename string       `json:"originalFilename"`
	PluginOutput     PluginOutput `json:"pluginOutput"`
	Analysis         Payload      `json:"analysis"`
	Error            string       `json:"error,omitempty"`
	Diagnostics      []Diagnostic `json:"diagnostics,omitempty"`
	DurationMS       int64        `json:"durationMs"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// AddDiagnostic appends a non-fatal problem to the result.
func (r *Result) AddDiagnostic(phase, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Phase: phase, Message: fmt.Sprintf(format, args...)})
}
