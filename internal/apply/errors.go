package apply

import (
	"errors"
	"fmt"
	"strings"

	"meshpatch/internal/correspond"
	"meshpatch/internal/logging"
)

// ErrorKind classifies apply failures.
type ErrorKind string

const (
	// BaseDiverged means a file with the right structure was found but its
	// bytes differ from the base the patch was built against.
	BaseDiverged ErrorKind = "base_diverged"
	// NoBaseFound means no candidate had the base manifest.
	NoBaseFound ErrorKind = "no_base_found"
	// LowConfidence means the correspondence is advisory and the caller did
	// not confirm.
	LowConfidence ErrorKind = "low_confidence"
	// MapMismatch means the requested correspondence map is not the asset's.
	MapMismatch ErrorKind = "map_mismatch"
)

var (
	ErrBaseDiverged  = errors.New("base diverged")
	ErrNoBaseFound   = errors.New("no base found")
	ErrLowConfidence = errors.New("low confidence")
	ErrMapMismatch   = errors.New("correspondence map mismatch")
	// ErrLocked reports another apply holding the output lock past the timeout.
	ErrLocked = errors.New("output is locked by another operation")
)

// ApplyError carries what a user needs to decide how to proceed.
type ApplyError struct {
	Kind           ErrorKind
	DerivedAssetID string
	BaseManifestID string
	TargetPath     string
	// Diverged lists candidates with the base manifest whose bytes differ.
	Diverged []string
	// Rejected lists candidates whose manifest did not match.
	Rejected []string
	Report   *correspond.Report
	// MapID is the correspondence map the caller asked for.
	MapID string
}

func (e *ApplyError) sentinel() error {
	switch e.Kind {
	case BaseDiverged:
		return ErrBaseDiverged
	case NoBaseFound:
		return ErrNoBaseFound
	case LowConfidence:
		return ErrLowConfidence
	case MapMismatch:
		return ErrMapMismatch
	}
	return nil
}

func (e *ApplyError) Error() string {
	switch e.Kind {
	case BaseDiverged:
		return fmt.Sprintf("base diverged: %s match manifest %s but differ from the patch base; re-export with the original settings or pick another file",
			strings.Join(e.Diverged, ", "), logging.ShortHash(e.BaseManifestID))
	case NoBaseFound:
		msg := fmt.Sprintf("no base found for manifest %s (target %s)", logging.ShortHash(e.BaseManifestID), e.TargetPath)
		if len(e.Rejected) > 0 {
			msg += "; rejected: " + strings.Join(e.Rejected, ", ")
		}
		return msg
	case LowConfidence:
		if e.Report != nil {
			return "low confidence: " + e.Report.String() + "; confirm to apply anyway"
		}
		return "low confidence; confirm to apply anyway"
	case MapMismatch:
		return fmt.Sprintf("correspondence map %s does not belong to derived asset %s",
			logging.ShortHash(e.MapID), logging.ShortHash(e.DerivedAssetID))
	}
	return string(e.Kind)
}

// Is matches the kind sentinel.
func (e *ApplyError) Is(target error) bool {
	s := e.sentinel()
	return s != nil && target == s
}

// ErrorKind classifies the error for CLI exit handling.
func (e *ApplyError) ErrorKind() string {
	switch e.Kind {
	case NoBaseFound:
		return "not_found"
	case LowConfidence:
		return "confirmation_required"
	case MapMismatch:
		return "validation"
	}
	return "conflict"
}
