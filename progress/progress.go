package progress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/jordanmaulana/free-eml-extractor/stats"
)

const maxTitleLen = 40

// Bar manages a progress bar for tracking extracted files.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
	out     io.Writer
}

// New creates a progress bar that is only shown at "info" log level and when not disabled.
func New(logLevel string, disabled bool) *Bar {
	return &Bar{
		enabled: !disabled && logLevel == "info",
		out:     os.Stdout,
	}
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeDiscovered:
		b.start(evt.Total)
	case stats.EventTypeProcessing:
		if b.pb != nil {
			b.pb.UpdateTitle("Extracting: " + shorten(filepath.Base(evt.Path)))
		}
	case stats.EventTypeSucceeded, stats.EventTypeSkipped:
		for _, w := range evt.Result.Warnings {
			pterm.Warning.WithWriter(b.out).Printfln("%s: %s", filepath.Base(evt.Path), w)
		}
		b.increment()
	case stats.EventTypeFailed:
		// Errors go above the bar so they stay visible.
		pterm.Error.WithWriter(b.out).Printfln("%s: %s", filepath.Base(evt.Path), evt.Result.ErrorText())
		b.increment()
	}
}

func (b *Bar) start(total int) {
	b.total = total
	pterm.Info.WithWriter(b.out).Printfln("Found %d message files", total)
	if total == 0 {
		return
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Extracting messages").
		WithWriter(b.out).
		Start()
	if err != nil {
		return
	}
	b.pb = pb
}

func (b *Bar) increment() {
	b.done++
	if b.pb != nil {
		b.pb.Increment()
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

func shorten(name string) string {
	runes := []rune(name)
	if len(runes) <= maxTitleLen {
		return name
	}
	return string(runes[:maxTitleLen-3]) + "..."
}

// ProgressReporter prints a summary section once all events were consumed.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
	out       io.Writer
}

// NewProgressReporter subscribes the bar and the summary printer when the bar
// is enabled. Both run in one subscriber so the summary is printed only after
// the bar has rendered its last frame.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
		out:       os.Stdout,
	}

	if bar.Enabled() {
		reporter.out = bar.out
		stream.SubscribeStats("progress", reporter.consume)
	}

	return reporter
}

// consume drives the bar and collects statistics, then stops the bar and
// prints the final summary.
func (pr *ProgressReporter) consume(ctx context.Context, events <-chan stats.Event) error {
	defer func() {
		pr.bar.Stop()
		pr.printSummary(pr.collector.Snapshot(), time.Since(pr.started))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			pr.collector.Apply(evt)
			pr.bar.Update(evt)
		}
	}
}

func (pr *ProgressReporter) printSummary(summary stats.Summary, duration time.Duration) {
	info := pterm.Info.WithWriter(pr.out)

	pterm.Fprintln(pr.out)
	pterm.DefaultSection.WithWriter(pr.out).Println("Extraction Summary")
	info.Printfln("Duration: %v", duration.Round(time.Millisecond))
	info.Printfln("Total: %d", summary.Total)
	info.Printfln("Succeeded: %d", summary.Succeeded)
	info.Printfln("Failed: %d", summary.Failed)
	info.Printfln("Skipped: %d", summary.Skipped)
	if summary.Warnings > 0 {
		pterm.Warning.WithWriter(pr.out).Printfln("%d warnings in %d files", summary.Warnings, len(summary.FileWarnings))
	}
	if summary.LastError != "" {
		pterm.Error.WithWriter(pr.out).Printfln("Last error: %s", summary.LastError)
	}
	if summary.Processed() < summary.Total {
		pterm.Warning.WithWriter(pr.out).Printfln("Stopped after %d of %d files", summary.Processed(), summary.Total)
	}
}
