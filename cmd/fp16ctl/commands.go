package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/fp16-analyzer/internal/bootstrap"
	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/fp16-analyzer/internal/middleware"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Run the demotion plugin on one source file and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var diffCmd = &cobra.Command{
	Use:   "diff ORIGINAL TRANSFORMED",
	Short: "Compare two sources line by line and tag demotions",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var reportCmd = &cobra.Command{
	Use:   "report FILE",
	Short: "Parse a memory_analysis.txt report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize FILE",
	Short: "Repair a float_map.json and check that it parses",
	Args:  cobra.ExactArgs(1),
	RunE:  runSanitize,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// history is per process here
	cfg.Store.Driver = "memory"

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if err := middleware.ValidateSourceFile(name, info.Size(), cfg.Server.AllowedExtensions, cfg.Server.MaxUploadBytes); err != nil {
		return fmt.Errorf("%s", middleware.AdmissionMessage(err))
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cmd.Context(), cfg, logOrNop())
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.Analyze(cmd.Context(), domain.Request{Source: src, OriginalName: name})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runDiff(cmd *cobra.Command, args []string) error {
	original, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	transformed, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	diffs := domain.Diff(string(original), string(transformed))
	for _, d := range diffs {
		fmt.Fprintf(out, "line %d [%s]\n  - %s\n  + %s\n", d.LineNumber, d.Kind, d.Original, d.Demoted)
	}
	fmt.Fprintf(out, "%d differing lines, %d demotions\n", len(diffs), domain.CountDemotions(diffs))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	text, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	report := domain.ParseReport(string(text))
	if report.Empty() {
		logOrNop().Warn("no recognized sections", zap.String("file", args[0]))
	}

	out := struct {
		Report  *domain.MemoryReport `json:"report"`
		Savings *domain.Savings      `json:"savings,omitempty"`
	}{Report: report}
	if s, ok := report.Savings(); ok {
		out.Savings = &s
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runSanitize(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, domain.Sanitize(string(raw)))

	m, err := domain.ParseFloatMap(string(raw))
	if err != nil {
		return err
	}
	safe, unsafe := m.Counts()
	fmt.Fprintf(cmd.ErrOrStderr(), "ok: %d records (%d safe, %d unsafe)\n", len(m), safe, unsafe)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func logOrNop() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
