// Package state remembers which source files were already extracted into an output directory.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record is one extracted source file.
type Record struct {
	Hash        string    `json:"hash"`
	Source      string    `json:"source"`
	OutputDir   string    `json:"output_dir"`
	RunID       string    `json:"run_id"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Key identifies a source by content and file name, so renamed copies and
// edited files are extracted again.
func (r Record) Key() string {
	return Key(r.Hash, r.Source)
}

// Key builds the lookup key for a content hash and source path.
func Key(hash, source string) string {
	if hash == "" {
		return ""
	}
	return hash + ":" + filepath.Base(source)
}

type Tracker interface {
	Lookup(key string) (Record, bool)
	MarkProcessed(rec Record) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
	// CorruptLines counts ledger lines that could not be parsed and were ignored.
	CorruptLines int
}

type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]Record)}
}

func (m *MemoryTracker) Lookup(key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}

	m.mu.RLock()
	rec, ok := m.processed[key]
	m.mu.RUnlock()
	return rec, ok
}

func (m *MemoryTracker) MarkProcessed(rec Record) error {
	key := rec.Key()
	if key == "" {
		return nil
	}

	m.mu.Lock()
	m.processed[key] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}

// FileTracker persists extraction records as JSON lines so future runs can skip them.
// Each output directory gets its own ledger file.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	logger  *slog.Logger
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex

	corrupt      int
	unterminated bool
}

// LedgerName returns the ledger file name for an output base directory.
func LedgerName(outputBase string) string {
	if abs, err := filepath.Abs(outputBase); err == nil {
		outputBase = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(outputBase)))
	return "output-" + hex.EncodeToString(sum[:8]) + ".jsonl"
}

// NewFileTracker loads the ledger for outputBase from stateDir. Unparseable
// lines, such as one cut short by a killed process, are logged and ignored.
// Nothing is created on disk unless persist is set.
func NewFileTracker(stateDir, outputBase string, persist bool, logger *slog.Logger) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, LedgerName(outputBase)),
		persist:       persist,
		logger:        logger,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
		if tracker.unterminated {
			// next record must not be glued onto the partial line
			_ = tracker.writer.WriteByte('\n')
		}
	}

	return tracker, nil
}

// Path returns the ledger file location.
func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(text, &record); err != nil {
			f.corrupt++
			f.logger.Warn("ignoring unreadable state line", "path", f.path, "line", line, "err", err)
			continue
		}
		key := record.Key()
		if key == "" {
			continue
		}

		f.mu.Lock()
		f.processed[key] = record
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, info.Size()-1); err == nil {
			f.unterminated = last[0] != '\n'
		}
	}

	return nil
}

// Snapshot reports loaded and recorded entries plus ignored ledger lines.
func (f *FileTracker) Snapshot() Snapshot {
	snap := f.MemoryTracker.Snapshot()
	snap.CorruptLines = f.corrupt
	return snap
}

// MarkProcessed records rec. A later record for the same key replaces the earlier one.
func (f *FileTracker) MarkProcessed(rec Record) error {
	key := rec.Key()
	if key == "" {
		return nil
	}

	f.mu.Lock()
	f.processed[key] = rec
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
