package model

import "strings"

// HeaderNames lists the extracted headers in the order they are rendered.
var HeaderNames = []string{"From", "To", "Subject", "Date", "Cc", "Message-ID"}

// Headers holds the decoded values of the extracted headers. Missing headers are empty.
type Headers struct {
	From      string
	To        string
	Subject   string
	Date      string
	Cc        string
	MessageID string
}

// HeaderField is a single rendered header line.
type HeaderField struct {
	Name  string
	Value string
}

// Get returns the value for one of HeaderNames, matched case-insensitively.
func (h Headers) Get(name string) string {
	switch strings.ToLower(name) {
	case "from":
		return h.From
	case "to":
		return h.To
	case "subject":
		return h.Subject
	case "date":
		return h.Date
	case "cc":
		return h.Cc
	case "message-id":
		return h.MessageID
	}
	return ""
}

// Fields returns every extracted header in HeaderNames order, empty values included.
func (h Headers) Fields() []HeaderField {
	fields := make([]HeaderField, 0, len(HeaderNames))
	for _, name := range HeaderNames {
		fields = append(fields, HeaderField{Name: name, Value: h.Get(name)})
	}
	return fields
}

// Attachment is a single attachment as declared in the source message.
type Attachment struct {
	// RawName is the filename from the message; it may be empty or unsafe.
	RawName     string
	ContentType string
	Content     []byte
}

// Message is a decomposed email: headers, optional bodies and attachments in source order.
type Message struct {
	Headers     Headers
	PlainText   *string
	HTML        *string
	Attachments []Attachment

	// Warnings records decoding fallbacks that did not stop extraction.
	Warnings []string
}

func (m *Message) HasPlainText() bool {
	return m.PlainText != nil
}

func (m *Message) HasHTML() bool {
	return m.HTML != nil
}
