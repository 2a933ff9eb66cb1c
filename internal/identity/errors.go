package identity

import (
	"errors"
	"fmt"
)

// ErrIdentityCollision matches any *RepairError of kind IdentityCollision.
var ErrIdentityCollision = errors.New("identity already bound to another asset")

// ErrorKind classifies repair failures.
type ErrorKind int

const (
	IdentityCollision ErrorKind = iota + 1
)

// RepairError reports a refused identity repair. Nothing was written.
type RepairError struct {
	Kind       ErrorKind
	Ref        Ref
	Path       string
	BoundPath  string
	BoundOwner string
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("%s: %s is bound to %s (owner %s), refusing to bind it to %s",
		ErrIdentityCollision, e.Ref, e.BoundPath, e.BoundOwner, e.Path)
}

// Is matches ErrIdentityCollision.
func (e *RepairError) Is(target error) bool {
	return target == ErrIdentityCollision && e.Kind == IdentityCollision
}

// ErrorKind implements the classifier used by the CLI for exit handling.
func (e *RepairError) ErrorKind() string { return "conflict" }
