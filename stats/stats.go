package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jordanmaulana/free-eml-extractor/model"
)

type EventType string

const (
	// EventTypeDiscovered carries the number of files found in Total.
	EventTypeDiscovered EventType = "discovered"
	// EventTypeProcessing is emitted before a file is read.
	EventTypeProcessing EventType = "processing"
	EventTypeSucceeded  EventType = "succeeded"
	EventTypeFailed     EventType = "failed"
	EventTypeSkipped    EventType = "skipped"
)

// Event is what the batch driver publishes to presentation subscribers.
type Event struct {
	Type  EventType
	Index int
	Total int
	Path  string
	// Result is set for succeeded, failed and skipped events.
	Result model.Result
}

// ResultEvent builds the terminal event for a processed file.
func ResultEvent(res model.Result, total int) Event {
	evt := Event{Index: res.Index, Total: total, Path: res.SourcePath, Result: res}
	switch res.Status {
	case model.StatusSucceeded:
		evt.Type = EventTypeSucceeded
	case model.StatusSkipped:
		evt.Type = EventTypeSkipped
	default:
		evt.Type = EventTypeFailed
	}
	return evt
}

// FileWarnings lists the non-fatal problems of one file.
type FileWarnings struct {
	Index    int      `yaml:"index"`
	Path     string   `yaml:"path"`
	Warnings []string `yaml:"warnings"`
}

// Summary aggregates per-file results.
type Summary struct {
	Total        int            `yaml:"total"`
	Succeeded    int            `yaml:"succeeded"`
	Failed       int            `yaml:"failed"`
	Skipped      int            `yaml:"skipped"`
	Warnings     int            `yaml:"warnings"`
	FileWarnings []FileWarnings `yaml:"file_warnings,omitempty"`
	LastError    string         `yaml:"last_error,omitempty"`
}

// Summarize aggregates results of a batch of total files.
func Summarize(results []model.Result, total int) Summary {
	s := Summary{Total: total}
	for _, res := range results {
		s.Add(res)
	}
	return s
}

// Add counts one result.
func (s *Summary) Add(res model.Result) {
	switch res.Status {
	case model.StatusSucceeded:
		s.Succeeded++
	case model.StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
		s.LastError = fmt.Sprintf("%s: %s", res.SourcePath, res.ErrorText())
	}
	if len(res.Warnings) > 0 {
		s.Warnings += len(res.Warnings)
		s.FileWarnings = append(s.FileWarnings, FileWarnings{
			Index:    res.Index,
			Path:     res.SourcePath,
			Warnings: append([]string(nil), res.Warnings...),
		})
	}
}

// Processed is the number of files that reached a final status.
func (s Summary) Processed() int {
	return s.Succeeded + s.Failed + s.Skipped
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"warnings", s.Warnings,
	}
	if s.LastError != "" {
		attrs = append(attrs, "lastError", s.LastError)
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	summary.FileWarnings = append([]FileWarnings(nil), c.summary.FileWarnings...)
	c.mu.Unlock()
	return summary
}

// Apply folds one event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeDiscovered:
		c.summary.Total = evt.Total
	case EventTypeSucceeded, EventTypeFailed, EventTypeSkipped:
		c.summary.Add(evt.Result)
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs per-file problems as they happen and the summary at the end.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return r.finish(ctx)
		case evt, ok := <-events:
			if !ok {
				return r.finish(ctx)
			}
			r.collector.Apply(evt)
			r.logEvent(evt)
		}
	}
}

func (r *Reporter) logEvent(evt Event) {
	if r.logger == nil {
		return
	}
	switch evt.Type {
	case EventTypeFailed:
		r.logger.Warn("extraction failed", "emailIndex", evt.Index, "path", evt.Path, "err", evt.Result.ErrorText())
	case EventTypeSkipped:
		r.logger.Debug("message skipped", "emailIndex", evt.Index, "path", evt.Path, "reason", evt.Result.Reason)
	case EventTypeSucceeded:
		for _, w := range evt.Result.Warnings {
			r.logger.Warn("extraction warning", "emailIndex", evt.Index, "path", evt.Path, "warning", w)
		}
	}
}

func (r *Reporter) finish(ctx context.Context) error {
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Count is one value with its number of occurrences.
type Count struct {
	Value string
	Count int
}

// Top returns the limit most frequent values, ties broken by value. A limit <= 0 returns all.
func Top(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{Value: k, Count: v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Value < pairs[j].Value
	})

	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Value, p.Count)
	}
}
