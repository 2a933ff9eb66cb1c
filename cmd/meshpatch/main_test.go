package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"meshpatch/internal/apply"
	"meshpatch/internal/derived"
	"meshpatch/internal/identity"
	"meshpatch/internal/locate"
	"meshpatch/internal/store"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", errors.New("boom"), exitFailure},
		{"build", &derived.BuildError{Kind: derived.UnreadableInput, Path: "x"}, exitValidation},
		{"no base", fmt.Errorf("apply: %w", &apply.ApplyError{Kind: apply.NoBaseFound}), exitNotFound},
		{"diverged", &apply.ApplyError{Kind: apply.BaseDiverged}, exitConflict},
		{"low confidence", &apply.ApplyError{Kind: apply.LowConfidence}, exitConfirmationRequired},
		{"collision", &identity.RepairError{Kind: identity.IdentityCollision}, exitConflict},
		{"missing row", fmt.Errorf("state %q: %w", "abc", store.ErrNotFound), exitNotFound},
		{"locked", fmt.Errorf("lock: %w", apply.ErrLocked), exitConflict},
		{"foreign map", &apply.ApplyError{Kind: apply.MapMismatch}, exitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootHelp(t *testing.T) {
	out, _, err := runCLI(t, []string{"--help"}, "")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"build", "apply", "applied", "manifest", "doctor"} {
		requireContains(t, out, name)
	}
}

func TestPromptsShareStdin(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("n\ny\n/tmp/Avatar.fbx\n"))
	cmd.SetErr(io.Discard)
	ctx := newCommandContext(nil)
	cause := &apply.ApplyError{Kind: apply.LowConfidence}

	for _, want := range []bool{false, true} {
		got, err := confirmLowConfidence(cmd, ctx.input(cmd), cause)
		if err != nil || got != want {
			t.Fatalf("confirm = %v, %v; want %v", got, err, want)
		}
	}
	prompter := &locate.LinePrompter{In: ctx.input(cmd), Out: io.Discard}
	path, ok, err := prompter.Prompt(context.Background(), "Base file: ")
	if err != nil || !ok || path != "/tmp/Avatar.fbx" {
		t.Fatalf("prompt = %q, %v, %v", path, ok, err)
	}
}
