package cmd

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join("..", "eml", "testdata", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewStatsCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	dir := fixtureDir(t, "plain.eml", "multipart.eml", "malformed.eml")

	out, err := execute(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Analysed 2 messages (skipped 0 by filters, 1 unreadable), 4 attachments")
	assert.Contains(t, out, "Top 10 From:")
	assert.Contains(t, out, "John Doe <john@example.com> (1)")
	assert.Contains(t, out, "Quarterly numbers (1)")
	assert.Contains(t, out, "1. application/pdf")
	assert.NotContains(t, out, "Reports saved")
}

func TestStatsCommandFilterHits(t *testing.T) {
	dir := fixtureDir(t, "plain.eml", "multipart.eml")

	out, err := execute(t, dir, "--exclude-header", "Quarterly", "--exclude-header", "nomatch")
	require.NoError(t, err)
	assert.Contains(t, out, "Analysed 1 messages (skipped 1 by filters, 0 unreadable)")
	assert.Contains(t, out, "Exclude Header Filters:")
	assert.Contains(t, out, "✓ Quarterly: 1 hits")
	assert.Contains(t, out, "✗ nomatch: 0 hits")
}

func TestStatsCommandMutuallyExclusiveFilters(t *testing.T) {
	dir := fixtureDir(t, "plain.eml")

	_, err := execute(t, dir, "--include-header", "a", "--exclude-body", "b")
	require.Error(t, err)
}

func TestStatsCommandWritesCSV(t *testing.T) {
	dir := fixtureDir(t, "plain.eml")
	reports := filepath.Join(t.TempDir(), "reports")

	out, err := execute(t, dir, "-o", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "Reports saved to directory: "+reports)

	for _, name := range []string{"report_from.csv", "report_to.csv", "report_subject.csv", "report_attachment_type.csv"} {
		assert.FileExists(t, filepath.Join(reports, name))
	}

	f, err := os.Open(filepath.Join(reports, "report_subject.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Value", "Count"}, {"Quarterly numbers", "1"}}, records)
}

func TestNormalizeHeaderName(t *testing.T) {
	assert.Equal(t, "delivered_to", normalizeHeaderName("Delivered-To"))
	assert.Equal(t, "attachment_type", normalizeHeaderName("Attachment-Type"))
}
