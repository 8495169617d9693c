package materialize

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameBytes is the longest file name most filesystems accept for one path component.
const MaxNameBytes = 255

// Names longer than this after the last dot are not treated as an extension.
const maxExtBytes = 32

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename turns an attachment name declared by a sender into a single
// safe path component. It is deterministic and idempotent; an empty result
// means the caller must generate a name.
func SanitizeFilename(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			b.WriteByte('_')
			continue
		}
		if isIllegal(r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	name := strings.TrimFunc(b.String(), isTrimmed)
	if name == "" {
		return ""
	}
	name = strings.TrimRightFunc(capName(name, MaxNameBytes), isTrimmed)
	if isReserved(name) {
		name = strings.TrimRightFunc(capName("_"+name, MaxNameBytes), isTrimmed)
	}
	return name
}

// withSuffix inserts _<n> before the extension, keeping the result within MaxNameBytes.
func withSuffix(name string, n int) string {
	stem, ext := splitExt(name)
	suffix := "_" + strconv.Itoa(n)
	return cutRunes(stem, MaxNameBytes-len(suffix)-len(ext)) + suffix + ext
}

func isIllegal(r rune) bool {
	switch r {
	case '/', '\\', '<', '>', ':', '"', '|', '?', '*':
		return true
	}
	return unicode.IsControl(r)
}

func isTrimmed(r rune) bool {
	return r == '.' || unicode.IsSpace(r)
}

func isReserved(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return reservedNames[strings.ToUpper(strings.TrimRightFunc(base, unicode.IsSpace))]
}

func splitExt(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	if len(ext) > maxExtBytes || len(ext) == len(name) {
		return name, ""
	}
	return name[:len(name)-len(ext)], ext
}

// capName shortens the stem so the whole name fits in max bytes.
func capName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	stem, ext := splitExt(name)
	return cutRunes(stem, max-len(ext)) + ext
}

// cutRunes returns the longest prefix of s that is at most n bytes and ends on a rune boundary.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
