package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jordanmaulana/free-eml-extractor/config"
	"github.com/jordanmaulana/free-eml-extractor/eml"
	"github.com/jordanmaulana/free-eml-extractor/filter"
	"github.com/jordanmaulana/free-eml-extractor/stats"
)

const (
	csvLimit           = 1000
	attachmentTypesKey = "Attachment-Type"
)

var trackedHeaders = []string{"From", "To", "Subject"}

// NewStatsCommand returns the "stats" subcommand, which analyses a directory
// of message files without writing any extraction output.
func NewStatsCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "stats <input-dir>",
		Short: "Analyse message files and show header statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filterCfg, err := config.LoadFilterFlags(cmd)
			if err != nil {
				return err
			}
			f, err := filter.New(filter.Options{
				IncludeHeader: filterCfg.IncludeHeader,
				IncludeBody:   filterCfg.IncludeBody,
				ExcludeHeader: filterCfg.ExcludeHeader,
				ExcludeBody:   filterCfg.ExcludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			files, err := eml.Discover(args[0], recursive)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Analyzing message files in:", args[0])

			a := newAnalysis()
			for _, path := range files {
				a.add(path, f)
			}
			a.print(out, f, topN)

			if reportDir == "" {
				return nil
			}
			keys := append(append([]string{}, trackedHeaders...), attachmentTypesKey)
			if err := saveCSVReports(a.counter, keys, reportDir, csvLimit); err != nil {
				return fmt.Errorf("save CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", "", "Directory for CSV reports (none written when empty)")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "Descend into subdirectories of the input directory")
	config.RegisterFilterFlags(cmd)

	return cmd
}

type analysis struct {
	counter     map[string]map[string]int
	analysed    int
	skipped     int
	failed      int
	attachments int
}

func newAnalysis() *analysis {
	a := &analysis{counter: make(map[string]map[string]int)}
	for _, h := range trackedHeaders {
		a.counter[h] = make(map[string]int)
	}
	a.counter[attachmentTypesKey] = make(map[string]int)
	return a
}

func (a *analysis) add(path string, f *filter.Filter) {
	src, err := eml.ReadFile(path)
	if err != nil {
		a.failed++
		return
	}
	if !f.Evaluate(src.Raw).Allowed {
		a.skipped++
		return
	}

	msg, err := eml.DecomposeBytes(src.Raw)
	if err != nil {
		a.failed++
		return
	}

	a.analysed++
	for _, name := range trackedHeaders {
		if value := msg.Headers.Get(name); value != "" {
			a.counter[name][value]++
		}
	}
	for _, att := range msg.Attachments {
		a.attachments++
		a.counter[attachmentTypesKey][att.ContentType]++
	}
}

func (a *analysis) print(w io.Writer, f *filter.Filter, topN int) {
	fmt.Fprintf(w, "Analysed %d messages (skipped %d by filters, %d unreadable), %d attachments\n\n",
		a.analysed, a.skipped, a.failed, a.attachments)

	filterStats := f.GetStats()
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters", filterStats.IncludeHeaderPatterns, filterStats.IncludeHeaderHits},
		{"Include Body Filters", filterStats.IncludeBodyPatterns, filterStats.IncludeBodyHits},
		{"Exclude Header Filters", filterStats.ExcludeHeaderPatterns, filterStats.ExcludeHeaderHits},
		{"Exclude Body Filters", filterStats.ExcludeBodyPatterns, filterStats.ExcludeBodyHits},
	}
	hasFilterStats := false
	for _, s := range sections {
		if len(s.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintf(w, "%s:\n", s.title)
		printFilterHits(w, s.patterns, s.hits)
		fmt.Fprintln(w)
	}
	if hasFilterStats {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, header := range append(append([]string{}, trackedHeaders...), attachmentTypesKey) {
		fmt.Fprintf(w, "Top %d %s:\n", topN, header)
		stats.PrettyPrintTop(w, a.counter[header], topN)
		fmt.Fprintln(w)
	}
}

func saveCSVReports(counter map[string]map[string]int, keys []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, key := range keys {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(key)))
		if err := writeCSVReport(path, counter[key], limit); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, counts map[string]int, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, c := range stats.Top(counts, limit) {
		if err := writer.Write([]string{c.Value, strconv.Itoa(c.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(w io.Writer, patterns []string, hits map[string]int) {
	counts := make(map[string]int, len(patterns))
	for _, p := range patterns {
		counts[p] = hits[p]
	}

	for _, c := range stats.Top(counts, 0) {
		if c.Count > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", c.Value, c.Count)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", c.Value)
		}
	}
}
