// Package runner drives a batch extraction: it enumerates message files,
// extracts each one in order and publishes progress events to subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanmaulana/free-eml-extractor/config"
	"github.com/jordanmaulana/free-eml-extractor/eml"
	"github.com/jordanmaulana/free-eml-extractor/filter"
	"github.com/jordanmaulana/free-eml-extractor/materialize"
	"github.com/jordanmaulana/free-eml-extractor/model"
	"github.com/jordanmaulana/free-eml-extractor/state"
	"github.com/jordanmaulana/free-eml-extractor/stats"
)

// ErrCancelled is returned by Run when the context was cancelled between files.
var ErrCancelled = errors.New("extraction cancelled")

const subscriberBuffer = 128

// Option customizes a Runner.
type Option func(*Runner)

// WithMaterializer replaces the filesystem writer.
func WithMaterializer(m *materialize.Materializer) Option {
	return func(r *Runner) {
		r.materializer = m
	}
}

// WithTracker replaces the resume ledger.
func WithTracker(t state.Tracker) Option {
	return func(r *Runner) {
		r.tracker = t
	}
}

type subscriber struct {
	name   string
	events chan stats.Event
}

type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	materializer *materialize.Materializer
	filter       *filter.Filter
	tracker      state.Tracker

	// subscribers outlive cancellation of Run's context so they can report partial runs.
	subCtx      context.Context
	subCancel   context.CancelFunc
	subscribers []subscriber
	statsWG     sync.WaitGroup
	closeOnce   sync.Once

	errMu sync.Mutex
	err   error
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		runID:     uuid.NewString(),
		filter:    f,
		subCtx:    subCtx,
		subCancel: subCancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.materializer == nil {
		r.materializer = materialize.New(logger)
	}
	if r.tracker == nil {
		r.tracker = newTracker(cfg, logger)
	}

	return r, nil
}

// newTracker opens the resume ledger only when resuming. An unusable ledger
// degrades to extracting every file.
func newTracker(cfg config.Config, logger *slog.Logger) state.Tracker {
	if !cfg.Resume {
		return state.NewMemoryTracker()
	}
	tracker, err := state.NewFileTracker(cfg.StateDir, cfg.OutputDir, !cfg.DryRun, logger)
	if err != nil {
		logger.Warn("resume state unavailable, extracting every file", "stateDir", cfg.StateDir, "err", err)
		return state.NewMemoryTracker()
	}
	return tracker
}

// SubscribeStats registers fn to receive every event of the run on its own
// channel. The channel is closed when Run finishes. Subscribers must be
// registered before Run is called.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, subscriberBuffer)
	r.subscribers = append(r.subscribers, subscriber{name: name, events: ch})

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		err := fn(r.subCtx, ch)
		// keep draining so an early return never blocks the run
		for range ch {
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, s := range r.subscribers {
		s.events <- evt
	}
}

// Run extracts every message file of the input directory in sorted order.
// Per-file problems end up in the report; the returned error is set only when
// the input directory cannot be read or ctx was cancelled. On cancellation the
// partial report is returned together with the error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	defer r.closeTracker()

	files, err := eml.Discover(r.cfg.InputDir, r.cfg.Recursive)
	if err != nil {
		r.finishSubscribers()
		r.logger.Error("extraction failed", "input", r.cfg.InputDir, "err", err)
		return nil, err
	}

	total := len(files)
	r.logger.Info("extraction started",
		"runId", r.runID,
		"input", r.cfg.InputDir,
		"output", r.cfg.OutputDir,
		"files", total,
		"dryRun", r.cfg.DryRun)
	r.EmitEvent(stats.Event{Type: stats.EventTypeDiscovered, Total: total})

	results := make([]model.Result, 0, total)
	cancelled := false
	for i, path := range files {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		index := i + 1
		r.EmitEvent(stats.Event{Type: stats.EventTypeProcessing, Index: index, Total: total, Path: path})
		res := r.process(index, path)
		results = append(results, res)
		r.EmitEvent(stats.ResultEvent(res, total))
	}

	if err := r.flushTracker(); err != nil {
		r.logger.Warn("state flush failed", "err", err)
	}
	r.finishSubscribers()

	report := &Report{
		RunID:      r.runID,
		InputDir:   r.cfg.InputDir,
		OutputDir:  r.cfg.OutputDir,
		DryRun:     r.cfg.DryRun,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    results,
		Summary:    stats.Summarize(results, total),
		Cancelled:  cancelled,
	}
	if r.filter.Active() {
		fs := r.filter.GetStats()
		report.Filter = &fs
		r.logFilterStats(fs)
	}

	duration := report.FinishedAt.Sub(started)
	if cancelled {
		r.logger.Warn("extraction cancelled", append(report.Summary.LogAttrs(), "duration", duration)...)
		return report, fmt.Errorf("%w after %d of %d files: %w", ErrCancelled, len(results), total, ctx.Err())
	}

	if err := r.subscriberErr(); err != nil {
		r.logger.Error("extraction completed with subscriber error", "duration", duration, "err", err)
		return report, err
	}

	r.logger.Info("extraction completed", "duration", duration, "ledgerRecords", r.tracker.Snapshot().Processed)
	return report, nil
}

func (r *Runner) process(index int, path string) model.Result {
	res := model.Result{Index: index, SourcePath: path}
	log := r.logger.With("emailIndex", index, "path", path)

	src, err := eml.ReadFile(path)
	if err != nil {
		return failed(res, err)
	}

	if decision := r.filter.Evaluate(src.Raw); !decision.Allowed {
		log.Debug("filtered", "reason", decision.Reason)
		return skipped(res, decision.Reason)
	}

	key := state.Key(src.Hash, path)
	if r.cfg.Resume {
		if rec, ok := r.tracker.Lookup(key); ok && dirExists(rec.OutputDir) {
			return skipped(res, "already extracted to "+rec.OutputDir)
		}
	}

	msg, err := eml.DecomposeBytes(src.Raw)
	if err != nil {
		return failed(res, err)
	}
	res.Warnings = append(res.Warnings, msg.Warnings...)

	if r.cfg.DryRun {
		log.Debug("decomposed",
			"plain", msg.HasPlainText(),
			"html", msg.HasHTML(),
			"attachments", len(msg.Attachments))
		res.Status = model.StatusSucceeded
		return res
	}

	out, err := r.materializer.Materialize(msg, r.cfg.OutputDir, index)
	if err != nil {
		return failed(res, err)
	}
	res.Status = model.StatusSucceeded
	res.OutputDir = out.OutputDir
	res.Warnings = append(res.Warnings, out.Warnings...)

	err = r.tracker.MarkProcessed(state.Record{
		Hash:        src.Hash,
		Source:      path,
		OutputDir:   out.OutputDir,
		RunID:       r.runID,
		ExtractedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn("state update failed", "err", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("resume state: %v", err))
	}

	log.Debug("extracted", "outputDir", out.OutputDir, "attachments", len(msg.Attachments), "warnings", len(res.Warnings))
	return res
}

func failed(res model.Result, err error) model.Result {
	res.Status = model.StatusFailed
	res.Err = err
	return res
}

func skipped(res model.Result, reason string) model.Result {
	res.Status = model.StatusSkipped
	res.Reason = reason
	return res
}

func (r *Runner) logFilterStats(fs filter.Stats) {
	attrs := []any{"evaluated", fs.Evaluated, "rejected", fs.Rejected}
	for _, set := range []struct {
		kind     string
		patterns []string
		hits     map[string]int
	}{
		{"includeHeader", fs.IncludeHeaderPatterns, fs.IncludeHeaderHits},
		{"includeBody", fs.IncludeBodyPatterns, fs.IncludeBodyHits},
		{"excludeHeader", fs.ExcludeHeaderPatterns, fs.ExcludeHeaderHits},
		{"excludeBody", fs.ExcludeBodyPatterns, fs.ExcludeBodyHits},
	} {
		for _, p := range set.patterns {
			attrs = append(attrs, slog.Group(set.kind, "pattern", p, "hits", set.hits[p]))
		}
	}
	r.logger.Info("filter statistics", attrs...)
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (r *Runner) finishSubscribers() {
	r.closeOnce.Do(func() {
		for _, s := range r.subscribers {
			close(s.events)
		}
		r.statsWG.Wait()
		r.subCancel()
	})
}

func (r *Runner) flushTracker() error {
	if f, ok := r.tracker.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (r *Runner) closeTracker() {
	if c, ok := r.tracker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("state close failed", "err", err)
		}
	}
}

func (r *Runner) subscriberErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
