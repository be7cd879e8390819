package tool

import (
	"errors"
	"fmt"
	"strings"
)

// FetchError reports a failed fetch tool invocation.
type FetchError struct {
	URL    string
	Stderr string
	Err    error
}

func (e *FetchError) Error() string {
	if reason := lastLine(e.Stderr); reason != "" {
		return fmt.Sprintf("fetch %s: %v: %s", e.URL, e.Err, reason)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason returns a short client-facing description of the failure.
func (e *FetchError) Reason() string {
	if reason := lastLine(e.Stderr); reason != "" {
		return reason
	}
	return e.Err.Error()
}

// TranscodeError reports a failed transcode tool invocation.
type TranscodeError struct {
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	if reason := lastLine(e.Stderr); reason != "" {
		return fmt.Sprintf("transcode: %v: %s", e.Err, reason)
	}
	return fmt.Sprintf("transcode: %v", e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

func (e *TranscodeError) Reason() string {
	if reason := lastLine(e.Stderr); reason != "" {
		return reason
	}
	return e.Err.Error()
}

// UnsupportedFormatError is returned before any process starts when the
// requested output format has no codec mapping.
type UnsupportedFormatError struct {
	Kind   string
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported %s format %q", e.Kind, e.Format)
}

var errEmptyOutput = errors.New("tool produced no output file")

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
