package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanmaulana/free-eml-extractor/model"
	"github.com/jordanmaulana/free-eml-extractor/stats"
)

type fakeStream struct {
	names []string
}

func (f *fakeStream) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	f.names = append(f.names, name)
}

func TestNewRespectsLevelAndFlag(t *testing.T) {
	assert.True(t, New("info", false).Enabled())
	assert.False(t, New("info", true).Enabled())
	assert.False(t, New("debug", false).Enabled())
	assert.False(t, New("warn", false).Enabled())

	var nilBar *Bar
	assert.False(t, nilBar.Enabled())
}

func TestDisabledBarSubscribesNothing(t *testing.T) {
	stream := &fakeStream{}
	NewProgressReporter(stream, New("debug", false), nil)
	assert.Empty(t, stream.names)

	stream = &fakeStream{}
	NewProgressReporter(stream, New("info", false), nil)
	assert.Equal(t, []string{"progress"}, stream.names)
}

func TestConsumePrintsSummaryAfterBar(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	bar := New("info", false)
	bar.out = &buf
	pr := &ProgressReporter{bar: bar, collector: stats.NewCollector(), started: time.Now(), out: &buf}

	events := make(chan stats.Event, 4)
	events <- stats.Event{Type: stats.EventTypeDiscovered, Total: 0}
	events <- stats.Event{Type: stats.EventTypeProcessing, Index: 1, Path: "a.eml"}
	events <- stats.ResultEvent(model.Result{
		Index: 1, SourcePath: "a.eml", Status: model.StatusFailed,
		Err: errors.New("unparseable message header"),
	}, 1)
	close(events)

	require.NoError(t, pr.consume(context.Background(), events))

	out := buf.String()
	errAt := strings.Index(out, "a.eml: unparseable message header")
	summaryAt := strings.Index(out, "Extraction Summary")
	require.GreaterOrEqual(t, errAt, 0)
	require.GreaterOrEqual(t, summaryAt, 0)
	assert.Less(t, errAt, summaryAt)
	assert.Contains(t, out, "Failed: 1")
	assert.Nil(t, bar.pb)
	assert.Equal(t, 1, bar.done)
}

func TestConsumeCancelledStillSummarizes(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	pr := &ProgressReporter{bar: New("info", true), collector: stats.NewCollector(), started: time.Now(), out: &buf}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pr.consume(ctx, make(chan stats.Event))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), "Extraction Summary")
}

func TestUpdatePrintsFailuresAndWarnings(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	bar := New("info", false)
	bar.out = &buf

	bar.Update(stats.ResultEvent(model.Result{
		Index: 1, SourcePath: "in/broken.eml", Status: model.StatusFailed,
		Err: errors.New("unparseable message header"),
	}, 2))
	bar.Update(stats.ResultEvent(model.Result{
		Index: 2, SourcePath: "in/ok.eml", Status: model.StatusSucceeded,
		Warnings: []string{"attachment 1 \"a.pdf\": disk full"},
	}, 2))

	out := buf.String()
	assert.Contains(t, out, "broken.eml: unparseable message header")
	assert.Contains(t, out, "ok.eml: attachment 1 \"a.pdf\": disk full")
	assert.Equal(t, 2, bar.done)
}

func TestPrintSummary(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	pr := &ProgressReporter{out: &buf}
	pr.printSummary(stats.Summary{
		Total:     4,
		Succeeded: 2,
		Failed:    1,
		Warnings:  3,
		FileWarnings: []stats.FileWarnings{
			{Index: 2, Path: "b.eml", Warnings: []string{"x", "y", "z"}},
		},
		LastError: "c.eml: unparseable message header",
	}, 1500*time.Millisecond)

	out := buf.String()
	for _, want := range []string{
		"Extraction Summary",
		"Total: 4",
		"Succeeded: 2",
		"Failed: 1",
		"Skipped: 0",
		"3 warnings in 1 files",
		"Last error: c.eml: unparseable message header",
		"Stopped after 3 of 4 files",
	} {
		assert.Contains(t, out, want)
	}
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short.eml", shorten("short.eml"))

	long := strings.Repeat("é", 50)
	got := shorten(long)
	assert.Equal(t, maxTitleLen, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}
