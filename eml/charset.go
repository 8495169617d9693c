package eml

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var errUnknownCharset = errors.New("unknown charset")

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func lookupCharset(label string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(label); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.MIME.Encoding(label); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownCharset, label)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := lookupCharset(strings.ToLower(strings.TrimSpace(label)))
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// decodeText converts body from the declared charset to UTF-8. It always
// returns usable text; the error reports that a lossy fallback was used.
func decodeText(body []byte, label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return strings.ToValidUTF8(string(body), "\uFFFD"), nil
	}

	enc, err := lookupCharset(label)
	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD"), err
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD"), fmt.Errorf("decode %s: %w", label, err)
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}

// decodeHeader unfolds a raw header value and decodes RFC 2047 encoded words.
func decodeHeader(raw string) string {
	raw = strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(raw)
	raw = strings.TrimSpace(raw)
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	// encoded words may carry line breaks of their own
	decoded = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(decoded)
	return strings.ToValidUTF8(decoded, "\uFFFD")
}
