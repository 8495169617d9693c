// Package eml decomposes single RFC 5322 messages into headers, bodies and attachments.
package eml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message"

	"github.com/jordanmaulana/free-eml-extractor/model"
)

// ErrParse reports that the header block of a message could not be parsed.
var ErrParse = errors.New("unparseable message header")

var looseFilename = regexp.MustCompile(`(?i)(?:^|;)\s*(?:file)?name\s*=\s*"?([^";]*)"?`)

// DecomposeBytes is Decompose for an in-memory message.
func DecomposeBytes(raw []byte) (*model.Message, error) {
	return Decompose(bytes.NewReader(raw))
}

// Decompose parses one message. Only an unparseable header block is an error;
// decoding problems further down are recorded as warnings on the result.
func Decompose(r io.Reader) (*model.Message, error) {
	entity, rootErr := message.Read(r)
	if rootErr != nil && !isDecodeError(rootErr) {
		return nil, fmt.Errorf("%w: %v", ErrParse, rootErr)
	}

	d := &decomposer{msg: &model.Message{}}
	d.msg.Headers = readHeaders(entity.Header)

	err := entity.Walk(func(path []int, e *message.Entity, err error) error {
		if len(path) == 0 && err == nil {
			err = rootErr
		}
		d.visit(path, e, err)
		return nil
	})
	if err != nil {
		d.warnf("message structure: %v", err)
	}

	return d.msg, nil
}

func readHeaders(h message.Header) model.Headers {
	return model.Headers{
		From:      decodeHeader(h.Get("From")),
		To:        decodeHeader(h.Get("To")),
		Subject:   decodeHeader(h.Get("Subject")),
		Date:      decodeHeader(h.Get("Date")),
		Cc:        decodeHeader(h.Get("Cc")),
		MessageID: decodeHeader(h.Get("Message-Id")),
	}
}

type decomposer struct {
	msg *model.Message
}

func (d *decomposer) visit(path []int, e *message.Entity, decodeErr error) {
	mediaType, params := contentType(e.Header)
	if strings.HasPrefix(mediaType, "multipart/") {
		return
	}

	disposition, filename := contentDisposition(e.Header)
	if filename == "" {
		filename = decodeHeader(params["name"])
	}

	meta := PartMeta{
		MediaType:   mediaType,
		Disposition: disposition,
		Filename:    strings.TrimSpace(filename),
		Root:        len(path) == 0,
	}

	kind := Classify(meta)
	switch kind {
	case PartPlainBody:
		if d.msg.PlainText != nil {
			return
		}
	case PartHTMLBody:
		if d.msg.HTML != nil {
			return
		}
	case PartIgnored:
		return
	}

	label := partLabel(path, mediaType)
	if decodeErr != nil && message.IsUnknownEncoding(decodeErr) {
		d.warnf("%s: %v, content kept undecoded", label, decodeErr)
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		d.warnf("%s: read: %v", label, err)
	}

	switch kind {
	case PartAttachment:
		d.msg.Attachments = append(d.msg.Attachments, model.Attachment{
			RawName:     filename,
			ContentType: mediaType,
			Content:     body,
		})
	case PartPlainBody:
		text := d.text(label, body, params["charset"])
		d.msg.PlainText = &text
	case PartHTMLBody:
		text := d.text(label, body, params["charset"])
		d.msg.HTML = &text
	}
}

func (d *decomposer) text(label string, body []byte, charset string) string {
	text, err := decodeText(body, charset)
	if err != nil {
		d.warnf("%s: %v, decoded as UTF-8 with replacement characters", label, err)
	}
	return text
}

func (d *decomposer) warnf(format string, args ...any) {
	d.msg.Warnings = append(d.msg.Warnings, fmt.Sprintf(format, args...))
}

// contentType returns the lower-case media type and its parameters. A missing
// or malformed Content-Type means text/plain (RFC 2045 section 5.2).
func contentType(h message.Header) (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if mediaType == "" || (err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter)) {
		return "text/plain", nil
	}
	return mediaType, params
}

func contentDisposition(h message.Header) (disposition, filename string) {
	raw := h.Get("Content-Disposition")
	if raw == "" {
		return "", ""
	}

	disposition, params, err := mime.ParseMediaType(raw)
	if err == nil {
		return disposition, decodeHeader(params["filename"])
	}

	// Sloppy senders: unquoted names with spaces and similar.
	disposition = strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0]))
	if m := looseFilename.FindStringSubmatch(raw); m != nil {
		filename = decodeHeader(m[1])
	}
	return disposition, filename
}

func isDecodeError(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func partLabel(path []int, mediaType string) string {
	if len(path) == 0 {
		return "body (" + mediaType + ")"
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p + 1)
	}
	return "part " + strings.Join(parts, ".") + " (" + mediaType + ")"
}
