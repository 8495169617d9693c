package model

// Status is the outcome of extracting one source file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result describes what happened to one source file during a batch run.
type Result struct {
	// Index is the 1-based position of the source in the sorted batch.
	Index      int
	SourcePath string
	Status     Status

	// OutputDir is set when the file was extracted.
	OutputDir string

	// Err carries the failure detail for StatusFailed.
	Err error

	// Reason explains a StatusSkipped result.
	Reason string

	Warnings []string
}

// ErrorText returns the failure detail, or an empty string.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
