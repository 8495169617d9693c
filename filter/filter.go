// Package filter selects messages by regular expressions over their raw header and body.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Decision is the outcome of evaluating one message.
type Decision struct {
	Allowed bool
	// Reason explains a rejection; empty when Allowed.
	Reason string
}

// Stats holds per-pattern hit counts, keyed by the pattern source.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	IncludeHeaderHits     map[string]int
	IncludeBodyHits       map[string]int
	ExcludeHeaderHits     map[string]int
	ExcludeBodyHits       map[string]int
	Evaluated             int
	Rejected              int
}

type patternSet struct {
	patterns []*regexp.Regexp
	hits     map[string]int
}

// Filter holds compiled regex patterns for filtering messages. It is safe for concurrent use.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader *patternSet
	includeBody   *patternSet
	excludeHeader *patternSet
	excludeBody   *patternSet

	mu        sync.Mutex
	evaluated int
	rejected  int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := newPatternSet("include-header", opts.IncludeHeader)
	if err != nil {
		return nil, err
	}
	includeBody, err := newPatternSet("include-body", opts.IncludeBody)
	if err != nil {
		return nil, err
	}
	excludeHeader, err := newPatternSet("exclude-header", opts.ExcludeHeader)
	if err != nil {
		return nil, err
	}
	excludeBody, err := newPatternSet("exclude-body", opts.ExcludeBody)
	if err != nil {
		return nil, err
	}

	includeActive := len(includeHeader.patterns) > 0 || len(includeBody.patterns) > 0
	excludeActive := len(excludeHeader.patterns) > 0 || len(excludeBody.patterns) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Evaluate splits a raw message and decides whether it passes.
func (f *Filter) Evaluate(raw []byte) Decision {
	header, body := SplitRawMessage(raw)
	return f.evaluate(header, body)
}

func (f *Filter) evaluate(header, body []byte) Decision {
	if !f.Active() {
		return Decision{Allowed: true}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated++

	if f.includeMode {
		headerHit := f.includeHeader.match(header)
		bodyHit := f.includeBody.match(body)
		if headerHit != "" || bodyHit != "" {
			return Decision{Allowed: true}
		}
		f.rejected++
		return Decision{Reason: "no include pattern matched"}
	}

	if hit := f.excludeHeader.match(header); hit != "" {
		f.excludeBody.match(body)
		f.rejected++
		return Decision{Reason: fmt.Sprintf("header matched exclude pattern %q", hit)}
	}
	if hit := f.excludeBody.match(body); hit != "" {
		f.rejected++
		return Decision{Reason: fmt.Sprintf("body matched exclude pattern %q", hit)}
	}
	return Decision{Allowed: true}
}

// GetStats returns a copy of the pattern hit counters.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		IncludeHeaderPatterns: f.includeHeader.sources(),
		IncludeBodyPatterns:   f.includeBody.sources(),
		ExcludeHeaderPatterns: f.excludeHeader.sources(),
		ExcludeBodyPatterns:   f.excludeBody.sources(),
		IncludeHeaderHits:     copyHits(f.includeHeader.hits),
		IncludeBodyHits:       copyHits(f.includeBody.hits),
		ExcludeHeaderHits:     copyHits(f.excludeHeader.hits),
		ExcludeBodyHits:       copyHits(f.excludeBody.hits),
		Evaluated:             f.evaluated,
		Rejected:              f.rejected,
	}
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	}

	return raw, nil
}

func newPatternSet(name string, patterns []string) (*patternSet, error) {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return nil, fmt.Errorf("compile %s pattern: %w", name, err)
	}
	return &patternSet{patterns: compiled, hits: make(map[string]int)}, nil
}

// match counts every pattern that matches text and returns the first one.
func (p *patternSet) match(text []byte) string {
	var first string
	for _, re := range p.patterns {
		if !re.Match(text) {
			continue
		}
		p.hits[re.String()]++
		if first == "" {
			first = re.String()
		}
	}
	return first
}

func (p *patternSet) sources() []string {
	out := make([]string, 0, len(p.patterns))
	for _, re := range p.patterns {
		out = append(out, re.String())
	}
	return out
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func copyHits(hits map[string]int) map[string]int {
	out := make(map[string]int, len(hits))
	for k, v := range hits {
		out[k] = v
	}
	return out
}
