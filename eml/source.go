package eml

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is the file extension of message files, matched case-insensitively.
const Extension = ".eml"

// Source is one raw message file.
type Source struct {
	Path string
	Raw  []byte
	// Hash is the hex SHA-256 of Raw.
	Hash string
}

// ReadFile loads a message file and hashes its content. Anything but a regular
// file (after following symlinks) is refused, since reading a FIFO or device
// may never return.
func ReadFile(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("read message: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Source{}, fmt.Errorf("read message: %s is not a regular file", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("read message: %w", err)
	}
	sum := sha256.Sum256(raw)
	return Source{
		Path: path,
		Raw:  raw,
		Hash: hex.EncodeToString(sum[:]),
	}, nil
}

// Discover lists the message files in dir sorted by their path relative to dir,
// so batch numbering is stable across runs. Only an unreadable dir is an error.
func Discover(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory: %s is not a directory", dir)
	}

	if !recursive {
		return discoverFlat(dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isMessageFile(d.Name()) || !isRegular(path, d) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return relative(dir, files[i]) < relative(dir, files[j])
	})
	return files, nil
}

func discoverFlat(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isMessageFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !isRegular(path, entry) {
			continue
		}
		files = append(files, path)
	}
	// os.ReadDir already sorts by name.
	return files, nil
}

// isRegular accepts regular files and symlinks resolving to one.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	target, err := os.Stat(path)
	return err == nil && target.Mode().IsRegular()
}

func isMessageFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

func relative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// IsNotExist reports whether a Discover or ReadFile error means the path is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
