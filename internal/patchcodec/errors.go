package patchcodec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies decode failures.
type ErrorKind int

const (
	// BaseMismatch means the supplied base is not the one the patch was
	// encoded against.
	BaseMismatch ErrorKind = iota + 1
	// Corrupt means the patch itself is damaged or inconsistent.
	Corrupt
)

var (
	// ErrBaseMismatch matches any *PatchError of kind BaseMismatch.
	ErrBaseMismatch = errors.New("patch base mismatch")
	// ErrCorrupt matches any *PatchError of kind Corrupt.
	ErrCorrupt = errors.New("patch corrupt")
)

// PatchError reports a failed decode.
type PatchError struct {
	Kind ErrorKind
	// ExpectedBase and ActualBase are hex SHA-256 digests, set for BaseMismatch.
	ExpectedBase string
	ActualBase   string
	Err          error
}

func (e *PatchError) sentinel() error {
	if e.Kind == BaseMismatch {
		return ErrBaseMismatch
	}
	return ErrCorrupt
}

func (e *PatchError) Error() string {
	if e.Kind == BaseMismatch {
		return fmt.Sprintf("%s: expected base %s, got %s", ErrBaseMismatch, short(e.ExpectedBase), short(e.ActualBase))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrCorrupt, e.Err)
	}
	return ErrCorrupt.Error()
}

func (e *PatchError) Unwrap() error { return e.Err }

// Is matches the ErrBaseMismatch and ErrCorrupt sentinels.
func (e *PatchError) Is(target error) bool { return target == e.sentinel() }

// ErrorKind implements the classifier used by the CLI for exit handling.
func (e *PatchError) ErrorKind() string {
	if e.Kind == BaseMismatch {
		return "validation"
	}
	return "corrupt"
}

func corrupt(format string, args ...any) *PatchError {
	return &PatchError{Kind: Corrupt, Err: fmt.Errorf(format, args...)}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
