package eml

// PartKind is the role a leaf MIME part plays in the extracted output.
type PartKind int

const (
	PartIgnored PartKind = iota
	PartPlainBody
	PartHTMLBody
	PartAttachment
)

func (k PartKind) String() string {
	switch k {
	case PartPlainBody:
		return "plain"
	case PartHTMLBody:
		return "html"
	case PartAttachment:
		return "attachment"
	default:
		return "ignored"
	}
}

// PartMeta is the declared metadata of a leaf part that classification depends on.
type PartMeta struct {
	// MediaType is the lower-case media type, e.g. "text/plain".
	MediaType string
	// Disposition is the lower-case disposition type, e.g. "attachment" or "inline".
	Disposition string
	Filename    string
	// Root is set when the message body is a single, non-multipart part.
	Root bool
}

// Classify decides what a leaf part is. It does not know whether a body was
// already captured; first-wins is applied by the caller.
func Classify(p PartMeta) PartKind {
	if p.Root {
		switch p.MediaType {
		case "text/plain":
			return PartPlainBody
		case "text/html":
			return PartHTMLBody
		}
		if p.Filename != "" {
			return PartAttachment
		}
		return PartIgnored
	}

	if p.Disposition == "attachment" || p.Filename != "" {
		return PartAttachment
	}
	switch p.MediaType {
	case "text/plain":
		return PartPlainBody
	case "text/html":
		return PartHTMLBody
	}
	return PartIgnored
}
