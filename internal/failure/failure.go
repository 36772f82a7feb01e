// Package failure defines the single error shape carried through every layer
// of a voice turn, from the audio normalizer up to the HTTP boundary.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why an operation did not succeed.
type Kind string

const (
	KindInput    Kind = "input_error"
	KindUpstream Kind = "upstream_service_error"
	KindStorage  Kind = "storage_error"
	KindNotFound Kind = "not_found"
	KindInternal Kind = "internal_error"
)

// Failure is a structured, non-exceptional outcome.
type Failure struct {
	Kind    Kind
	Stage   string
	Message string
	// Detail carries upstream response bodies or similar context that is safe
	// to show to the caller.
	Detail string
	// Status is the upstream HTTP status when one was observed.
	Status    int
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = string(f.Kind)
	}
	if f.Stage != "" {
		msg = f.Stage + ": " + msg
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// WithStage returns a copy of f tagged with stage, keeping an existing tag.
func (f *Failure) WithStage(stage string) *Failure {
	c := *f
	if c.Stage == "" {
		c.Stage = stage
	}
	return &c
}

func Input(msg string) *Failure {
	return &Failure{Kind: KindInput, Message: msg}
}

func NotFound(msg string) *Failure {
	return &Failure{Kind: KindNotFound, Message: msg}
}

func Upstream(msg string, err error) *Failure {
	return &Failure{Kind: KindUpstream, Message: msg, Err: err}
}

func Storage(msg string, err error) *Failure {
	return &Failure{Kind: KindStorage, Message: msg, Err: err}
}

func Internal(err error) *Failure {
	return &Failure{Kind: KindInternal, Message: "internal server error", Err: err}
}

// As extracts a *Failure from err. Errors that are not Failures are reported
// as internal errors so nothing unclassified leaks to a caller.
func As(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Internal(err)
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

// HTTPStatus maps a kind onto the status class the API reports.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
