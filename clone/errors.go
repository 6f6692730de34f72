package clone

import (
	"errors"
	"fmt"
)

// Kind labels a stage failure so the state machine and the HTTP layer can
// branch on failure class without string matching.
type Kind string

const (
	KindValidation Kind = "validation" // bad input, e.g. refining a non-completed session
	KindExtraction Kind = "extraction" // renderer failed or returned an unusable snapshot
	KindDetection  Kind = "detection"  // programmer error, fatal
	KindProvider   Kind = "provider"   // language-model failure after retries
	KindBudget     Kind = "budget"     // prompt could not fit the ceiling even at minimal tier
	KindSession    Kind = "session"    // unknown session id
	KindInternal   Kind = "internal"   // anything else
)

// Error is a typed stage outcome.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("clone: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("clone: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error without a cause.
func E(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Wrap builds a typed error around a cause.
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// KindOf extracts the failure kind, defaulting to internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Sentinel conditions surfaced to callers.
var (
	ErrSessionNotFound = errors.New("clone: session not found")
	ErrRunInFlight     = errors.New("clone: a pipeline run is already active for this session")
	ErrNotCompleted    = errors.New("clone: only completed sessions can be refined")
)
