// Package errkind names the externally observable error_type values a
// scrape result can carry. Callers wrap an underlying
// error with Wrap so the orchestrator can report a stable kind string
// without parsing error text.
package errkind

import "errors"

type Kind string

const (
	Timeout             Kind = "Timeout"
	ConnectionError     Kind = "ConnectionError"
	RetryableHTTPError  Kind = "RetryableHTTPError"
	PermanentHTTPError  Kind = "PermanentHTTPError"
	HTMLInsteadOfData   Kind = "HTMLInsteadOfData"
	BadZipFile          Kind = "BadZipFile"
	UnsupportedCompress Kind = "UnsupportedCompression"
	UnicodeDecodeError  Kind = "UnicodeDecodeError"
	JSONDecodeError     Kind = "JSONDecodeError"
	ParserError         Kind = "ParserError"
	NoCharges           Kind = "NoCharges"
	NoExtractor         Kind = "NoExtractor"
	TimeoutError        Kind = "TimeoutError"
	WorkerCrashed       Kind = "WorkerCrashed"
	Unknown             Kind = "Error"
)

// kindError attaches a Kind to an underlying error without hiding it;
// errors.Unwrap still reaches the original cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Of extracts the Kind tagged onto err via Wrap, or Unknown if none is found.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Truncate caps a message to the 500-character limit the status emitter
// enforces on error_message.
func Truncate(msg string) string {
	const max = 500
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
