package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"meshpatch/internal/apply"
	"meshpatch/internal/blobstore"
	"meshpatch/internal/store"
)

// Exit codes by error classification.
const (
	exitFailure              = 1
	exitValidation           = 2
	exitNotFound             = 3
	exitConflict             = 4
	exitConfirmationRequired = 5
)

// errorClassifier is implemented by domain errors that declare their kind.
type errorClassifier interface {
	ErrorKind() string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var classifier errorClassifier
	if errors.As(err, &classifier) {
		switch classifier.ErrorKind() {
		case "validation":
			return exitValidation
		case "not_found":
			return exitNotFound
		case "conflict":
			return exitConflict
		case "confirmation_required":
			return exitConfirmationRequired
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return exitNotFound
	case errors.Is(err, apply.ErrLocked):
		return exitConflict
	}
	return exitFailure
}
