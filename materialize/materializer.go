// Package materialize writes decomposed messages to per-email output folders.
package materialize

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/jordanmaulana/free-eml-extractor/model"
)

const (
	HeadersFile    = "headers.txt"
	PlainBodyFile  = "body_plain.txt"
	HTMLBodyFile   = "body_html.html"
	AttachmentsDir = "attachments"

	// maxSuffix bounds collision probing so a misbehaving filesystem cannot loop forever.
	maxSuffix = 10000
)

// ErrOutputDir reports that the per-email output directory could not be created.
var ErrOutputDir = errors.New("cannot create output directory")

// Result describes one materialized message.
type Result struct {
	OutputDir string
	Warnings  []string
}

// Materializer writes messages below an output base directory.
type Materializer struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New returns a Materializer backed by the operating system filesystem.
func New(logger *slog.Logger) *Materializer {
	return NewWithFs(afero.NewOsFs(), logger)
}

// NewWithFs returns a Materializer that writes through fsys.
func NewWithFs(fsys afero.Fs, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{fs: fsys, logger: logger}
}

// Materialize writes msg into email_<index> under outputBase. Only failing to
// create that directory is an error; every later write failure becomes a
// warning on the result.
func (m *Materializer) Materialize(msg *model.Message, outputBase string, index int) (*Result, error) {
	if err := m.fs.MkdirAll(outputBase, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutputDir, outputBase, err)
	}

	dir, err := m.createEmailDir(outputBase, index)
	if err != nil {
		return nil, err
	}

	res := &Result{OutputDir: dir}
	m.writeFile(res, HeadersFile, []byte(formatHeaders(msg.Headers)))
	if msg.PlainText != nil {
		m.writeFile(res, PlainBodyFile, []byte(*msg.PlainText))
	}
	if msg.HTML != nil {
		m.writeFile(res, HTMLBodyFile, []byte(*msg.HTML))
	}
	if len(msg.Attachments) > 0 {
		m.writeAttachments(res, msg.Attachments)
	}

	return res, nil
}

// createEmailDir claims email_<index>, then email_<index>_2, _3 and so on.
// Mkdir is exclusive, so a name taken by a concurrent run moves on to the next suffix.
func (m *Materializer) createEmailDir(outputBase string, index int) (string, error) {
	base := fmt.Sprintf("email_%d", index)
	for n := 1; n <= maxSuffix; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		dir := filepath.Join(outputBase, name)
		err := m.fs.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrOutputDir, dir, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %s under %s", ErrOutputDir, base, outputBase)
}

func formatHeaders(h model.Headers) string {
	var b strings.Builder
	for _, f := range h.Fields() {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Materializer) writeFile(res *Result, name string, data []byte) {
	if err := afero.WriteFile(m.fs, filepath.Join(res.OutputDir, name), data, 0o644); err != nil {
		res.warnf("%s: %v", name, err)
	}
}

func (m *Materializer) writeAttachments(res *Result, attachments []model.Attachment) {
	dir := filepath.Join(res.OutputDir, AttachmentsDir)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		for i, att := range attachments {
			res.warnf("attachment %d %q: %v", i+1, att.RawName, err)
		}
		return
	}

	for i, att := range attachments {
		name := SanitizeFilename(att.RawName)
		if name == "" {
			name = fmt.Sprintf("attachment_%d", i+1)
		}

		path, err := m.writeExclusive(dir, name, att.Content)
		if err != nil {
			res.warnf("attachment %d %q: %v", i+1, att.RawName, err)
			continue
		}
		m.logger.Debug("attachment written",
			slog.String("name", att.RawName),
			slog.String("path", path),
			slog.Int("bytes", len(att.Content)))
	}
}

// writeExclusive creates name, or name_2, name_3 and so on when taken, and writes data to it.
func (m *Materializer) writeExclusive(dir, name string, data []byte) (string, error) {
	for n := 1; n <= maxSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = withSuffix(name, n)
		}
		path := filepath.Join(dir, candidate)

		f, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return path, fmt.Errorf("write %s: %w", candidate, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free name for %s", name)
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
