// Package oqerr defines the error taxonomy shared by every pass of the
// osmquadtree pipeline, so the CLI layer can map any failure to a single
// exit code and a one-line message.
package oqerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the command layer needs to report it.
type Kind int

const (
	// KindPbfData covers malformed blocks, wrong wire tags, truncation,
	// impossible array sizes, and bad compression tags.
	KindPbfData Kind = iota
	// KindInvalidInput covers unparseable timestamps, malformed bbox
	// filters, missing filelist.json, or an id absent from an existing file.
	KindInvalidInput
	// KindResourceExhausted covers a pass whose working set would exceed
	// the caller-supplied RAM hint.
	KindResourceExhausted
	// KindIntegrity covers an id-index out of sync with its data file, or
	// a broken ring in a temp-file shard.
	KindIntegrity
	// KindUserSelection covers flag/mode combinations the CLI layer rejects
	// outright, e.g. a timestamp filter without a directory-mode input.
	KindUserSelection
)

func (k Kind) String() string {
	switch k {
	case KindPbfData:
		return "PbfDataError"
	case KindInvalidInput:
		return "InvalidInput"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindIntegrity:
		return "IntegrityError"
	case KindUserSelection:
		return "UserSelectionError"
	default:
		return "UnknownError"
	}
}

// Error is a Kind-tagged, wrappable error. Fatal errors from any pass are
// surfaced through this type so the top-level command can print one line
// and choose an exit code.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error with a formatted message.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying error.
func Wrap(k Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

func PbfData(format string, args ...interface{}) *Error {
	return New(KindPbfData, format, args...)
}

func InvalidInput(format string, args ...interface{}) *Error {
	return New(KindInvalidInput, format, args...)
}

func ResourceExhausted(format string, args ...interface{}) *Error {
	return New(KindResourceExhausted, format, args...)
}

func Integrity(format string, args ...interface{}) *Error {
	return New(KindIntegrity, format, args...)
}

func UserSelection(format string, args ...interface{}) *Error {
	return New(KindUserSelection, format, args...)
}
