package recorder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestrator failures
type ErrorKind string

const (
	InvalidRequest      ErrorKind = "InvalidRequest"
	NoDisplayInRegion   ErrorKind = "NoDisplayInRegion"
	TooManyAudioDevices ErrorKind = "TooManyAudioDevices"
	EngineStartFailed   ErrorKind = "EngineStartFailed"
	EngineStopFailed    ErrorKind = "EngineStopFailed"
	SignalTimeout       ErrorKind = "SignalTimeout"
	NotInitialized      ErrorKind = "NotInitialized"
)

// Error is returned by Start, Stop and Release
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrInvalidRequest      = &Error{Kind: InvalidRequest}
	ErrNoDisplayInRegion   = &Error{Kind: NoDisplayInRegion}
	ErrTooManyAudioDevices = &Error{Kind: TooManyAudioDevices}
	ErrEngineStartFailed   = &Error{Kind: EngineStartFailed}
	ErrEngineStopFailed    = &Error{Kind: EngineStopFailed}
	ErrSignalTimeout       = &Error{Kind: SignalTimeout}
	ErrNotInitialized      = &Error{Kind: NotInitialized, Message: "engine is not initialized, call Init first"}
)

func invalid(format string, args ...any) error {
	return &Error{Kind: InvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an orchestrator error, or "" for other errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
