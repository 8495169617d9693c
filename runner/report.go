package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jordanmaulana/free-eml-extractor/filter"
	"github.com/jordanmaulana/free-eml-extractor/model"
	"github.com/jordanmaulana/free-eml-extractor/stats"
)

// Report is the outcome of one Run, in file order.
type Report struct {
	RunID      string
	InputDir   string
	OutputDir  string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []model.Result
	Summary    stats.Summary
	Cancelled  bool
	// Filter holds per-pattern hits when include or exclude patterns were set.
	Filter *filter.Stats
}

type reportDoc struct {
	RunID      string        `yaml:"run_id"`
	Input      string        `yaml:"input"`
	Output     string        `yaml:"output"`
	DryRun     bool          `yaml:"dry_run,omitempty"`
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at"`
	Cancelled  bool          `yaml:"cancelled,omitempty"`
	Summary    stats.Summary `yaml:"summary"`
	Filter     *reportFilter `yaml:"filter,omitempty"`
	Files      []reportFile  `yaml:"files"`
}

type reportFilter struct {
	Evaluated     int            `yaml:"evaluated"`
	Rejected      int            `yaml:"rejected"`
	IncludeHeader map[string]int `yaml:"include_header,omitempty"`
	IncludeBody   map[string]int `yaml:"include_body,omitempty"`
	ExcludeHeader map[string]int `yaml:"exclude_header,omitempty"`
	ExcludeBody   map[string]int `yaml:"exclude_body,omitempty"`
}

// patternHits lists every configured pattern, including those without hits.
func patternHits(patterns []string, hits map[string]int) map[string]int {
	if len(patterns) == 0 {
		return nil
	}
	out := make(map[string]int, len(patterns))
	for _, p := range patterns {
		out[p] = hits[p]
	}
	return out
}

type reportFile struct {
	Index     int      `yaml:"index"`
	Source    string   `yaml:"source"`
	Status    string   `yaml:"status"`
	OutputDir string   `yaml:"output_dir,omitempty"`
	Error     string   `yaml:"error,omitempty"`
	Reason    string   `yaml:"reason,omitempty"`
	Warnings  []string `yaml:"warnings,omitempty"`
}

// WriteYAML encodes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	doc := reportDoc{
		RunID:      r.RunID,
		Input:      r.InputDir,
		Output:     r.OutputDir,
		DryRun:     r.DryRun,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Cancelled:  r.Cancelled,
		Summary:    r.Summary,
		Files:      make([]reportFile, 0, len(r.Results)),
	}
	if fs := r.Filter; fs != nil {
		doc.Filter = &reportFilter{
			Evaluated:     fs.Evaluated,
			Rejected:      fs.Rejected,
			IncludeHeader: patternHits(fs.IncludeHeaderPatterns, fs.IncludeHeaderHits),
			IncludeBody:   patternHits(fs.IncludeBodyPatterns, fs.IncludeBodyHits),
			ExcludeHeader: patternHits(fs.ExcludeHeaderPatterns, fs.ExcludeHeaderHits),
			ExcludeBody:   patternHits(fs.ExcludeBodyPatterns, fs.ExcludeBodyHits),
		}
	}
	for _, res := range r.Results {
		doc.Files = append(doc.Files, reportFile{
			Index:     res.Index,
			Source:    res.SourcePath,
			Status:    string(res.Status),
			OutputDir: res.OutputDir,
			Error:     res.ErrorText(),
			Reason:    res.Reason,
			Warnings:  res.Warnings,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes the report to path, creating parent directories.
func (r *Report) SaveYAML(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.WriteYAML(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
