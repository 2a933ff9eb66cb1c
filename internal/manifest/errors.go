package manifest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies manifest build failures.
type ErrorKind int

const (
	// Malformed means the container could not be parsed.
	Malformed ErrorKind = iota + 1
	// Empty means the container parsed but holds no model nodes.
	Empty
)

var (
	// ErrMalformed matches any *ParseError of kind Malformed.
	ErrMalformed = errors.New("malformed model file")
	// ErrEmpty matches any *ParseError of kind Empty.
	ErrEmpty = errors.New("model file has no nodes")
)

// ParseError reports why a manifest could not be built.
type ParseError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ParseError) sentinel() error {
	if e.Kind == Empty {
		return ErrEmpty
	}
	return ErrMalformed
}

func (e *ParseError) Error() string {
	msg := e.sentinel().Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches the ErrMalformed and ErrEmpty sentinels.
func (e *ParseError) Is(target error) bool {
	return target == e.sentinel()
}

// ErrorKind implements the classifier used by the CLI for exit handling.
func (e *ParseError) ErrorKind() string { return "validation" }
