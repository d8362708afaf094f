package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"ReelStudio-server/genai"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindCredentialMissing ErrorKind = "credential_missing"
	KindCredentialExpired ErrorKind = "credential_expired"
	KindNoContent         ErrorKind = "no_content"
	KindFetch             ErrorKind = "fetch"
	KindTransport         ErrorKind = "transport"
	KindTimeout           ErrorKind = "timeout"
	KindCanceled          ErrorKind = "canceled"
)

// ExpiredCredentialSignature is the message the generation service returns
// when the configured key no longer resolves, from any call.
const ExpiredCredentialSignature = genai.ExpiredKeySignature

// Error is the single error type returned by the orchestrator.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrCredentialMissing = &Error{Kind: KindCredentialMissing}
	ErrCredentialExpired = &Error{Kind: KindCredentialExpired}
	ErrNoContent         = &Error{Kind: KindNoContent}
	ErrFetch             = &Error{Kind: KindFetch}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCanceled          = &Error{Kind: KindCanceled}
)

func (e *Error) Error() string {
	// transport failures keep the service message verbatim
	if e.Kind == KindTransport && e.Err != nil {
		return e.Err.Error()
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch e.Kind {
	case KindValidation:
		b.WriteString("invalid request")
	case KindCredentialMissing:
		b.WriteString("no api key configured")
	case KindCredentialExpired:
		b.WriteString("api key session expired, please re-select your key")
	case KindNoContent:
		b.WriteString("generation returned no content")
	case KindFetch:
		b.WriteString("fetching result failed")
	case KindTimeout:
		b.WriteString("generation timed out")
	case KindCanceled:
		b.WriteString("generation canceled")
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an orchestrator error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// credentialExpirer is implemented by remote errors that expose a structured
// code for an invalid or expired key.
type credentialExpirer interface {
	CredentialExpired() bool
}

// IsCredentialExpired reports whether err signals an expired credential.
func IsCredentialExpired(err error) bool {
	if err == nil {
		return false
	}
	var ce credentialExpirer
	if errors.As(err, &ce) && ce.CredentialExpired() {
		return true
	}
	return strings.Contains(err.Error(), ExpiredCredentialSignature)
}
