package derived

import (
	"errors"
	"fmt"
)

// ErrorKind classifies build failures.
type ErrorKind string

const (
	// UnreadableInput means an input file could not be read or parsed as a model.
	UnreadableInput ErrorKind = "unreadable_input"
)

// ErrUnreadableInput matches BuildErrors of kind UnreadableInput.
var ErrUnreadableInput = errors.New("unreadable input")

// BuildError reports why a derived asset could not be built.
type BuildError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is matches the kind sentinel.
func (e *BuildError) Is(target error) bool {
	return e.Kind == UnreadableInput && target == ErrUnreadableInput
}

// ErrorKind classifies the error for CLI exit handling.
func (e *BuildError) ErrorKind() string { return "validation" }
