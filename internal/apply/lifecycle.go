package apply

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"meshpatch/internal/fileutil"
	"meshpatch/internal/logging"
	"meshpatch/internal/store"
)

func (a *Applicator) loadState(ctx context.Context, idOrPrefix string) (*store.State, error) {
	id, err := a.store.ResolveStateID(ctx, idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("applied state %w", err)
	}
	st, err := a.store.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("applied state %s: %w", id, store.ErrNotFound)
	}
	return st, nil
}

// Get returns the applied state with the given ID or unique ID prefix.
func (a *Applicator) Get(ctx context.Context, idOrPrefix string) (*store.State, error) {
	return a.loadState(ctx, idOrPrefix)
}

// Toggle enables or disables an applied state without running the codec.
// With apply.hide_disabled_outputs the outputs are renamed to "<path>.disabled"
// while disabled.
func (a *Applicator) Toggle(ctx context.Context, stateID string, enabled bool) (*store.State, error) {
	st, err := a.loadState(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if st.Enabled == enabled {
		return st, nil
	}
	unlock, err := a.lockOutput(ctx, st.OutputPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// refill, when set, is copied back to "to" after undoing the rename.
	type move struct{ from, to, refill string }
	var moved []move
	undo := func(cause error) error {
		for i := len(moved) - 1; i >= 0; i-- {
			m := moved[i]
			if err := os.Rename(m.to, m.from); err != nil {
				cause = errors.Join(cause, err)
				continue
			}
			if m.refill != "" {
				if err := fileutil.CopyFileVerified(m.refill, m.to); err != nil {
					cause = errors.Join(cause, err)
				}
			}
		}
		return cause
	}
	if a.cfg.Apply.HideDisabledOutputs {
		for _, out := range st.Outputs {
			// A target patched in place shows its original while disabled.
			var original string
			if patchedInPlace(st, out) {
				original = OriginalPath(a.cfg.Paths.DataDir, st.ID, out.Path)
			}
			from, to := out.Path, hiddenPath(out.Path)
			if enabled {
				from, to = to, from
			}
			if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err := os.Rename(from, to); err != nil {
				return nil, undo(fmt.Errorf("rename output: %w", err))
			}
			m := move{from: from, to: to}
			if enabled {
				m.refill = original
			}
			moved = append(moved, m)
			if !enabled && original != "" {
				if err := fileutil.CopyFileVerified(original, out.Path); err != nil {
					return nil, undo(fmt.Errorf("show original: %w", err))
				}
			}
		}
	}
	if err := a.store.SetStateEnabled(ctx, st.ID, enabled); err != nil {
		return nil, undo(err)
	}

	logging.WithContext(logging.WithStateID(ctx, st.ID), a.logger).Info("applied state toggled",
		logging.Bool("enabled", enabled),
		logging.Int("renamed_outputs", len(moved)))
	return a.store.GetState(ctx, st.ID)
}

// Rebuild re-applies a state with its stored inputs. On failure the state
// returns to applied and its previous outputs stay in place.
func (a *Applicator) Rebuild(ctx context.Context, stateID string) (*Result, error) {
	st, err := a.loadState(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetStateStatus(ctx, st.ID, store.StatusRebuilding); err != nil {
		return nil, err
	}

	res, err := a.Apply(ctx, Request{
		DerivedAssetID:      st.DerivedAssetID,
		TargetPath:          st.TargetPath,
		OutputPath:          st.OutputPath,
		ConfidenceOverride:  st.ConfidenceOverride,
		CorrespondenceMapID: st.CorrespondenceMapID,
		Policy:              st.Policy,
		Confirmed:           st.Confirmed,
		StateID:             st.ID,
	})
	if err != nil {
		if statusErr := a.store.SetStateStatus(context.WithoutCancel(ctx), st.ID, store.StatusApplied); statusErr != nil {
			err = errors.Join(err, statusErr)
		}
		logging.WarnWithContext(logging.WithContext(logging.WithStateID(ctx, st.ID), a.logger),
			"rebuild failed", "rebuild_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous outputs are unchanged"),
			logging.String(logging.FieldErrorHint, "fix the cause and run the rebuild again"))
		return nil, err
	}
	return res, nil
}

// Remove reverts output identities, deletes the outputs and the state. A
// target patched in place gets its original bytes back.
func (a *Applicator) Remove(ctx context.Context, stateID string) error {
	st, err := a.loadState(ctx, stateID)
	if err != nil {
		return err
	}
	unlock, err := a.lockOutput(ctx, st.OutputPath)
	if err != nil {
		return err
	}
	defer unlock()

	for _, out := range st.Outputs {
		if out.Identity.IsZero() {
			continue
		}
		if err := a.repairer.Revert(ctx, out.Outcome(st.Policy, st.DerivedAssetID)); err != nil {
			return fmt.Errorf("revert identity of %s: %w", out.Path, err)
		}
	}
	for _, out := range st.Outputs {
		if err := a.discardOutput(st, out); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
	}
	if err := a.store.DeleteState(ctx, st.ID); err != nil {
		return err
	}
	logging.WithContext(logging.WithStateID(ctx, st.ID), a.logger).Info("applied state removed",
		logging.Int("outputs", len(st.Outputs)))
	return nil
}

func patchedInPlace(st *store.State, out store.Output) bool {
	return out.Path == st.TargetPath
}

// discardOutput deletes what st left at out.Path, or restores the original
// when the output replaced its target.
func (a *Applicator) discardOutput(st *store.State, out store.Output) error {
	if patchedInPlace(st, out) {
		if err := restoreOriginal(OriginalPath(a.cfg.Paths.DataDir, st.ID, out.Path), out.Path); err != nil {
			return err
		}
		return removeIfExists(hiddenPath(out.Path))
	}
	for _, p := range []string{out.Path, hiddenPath(out.Path)} {
		if err := removeIfExists(p); err != nil {
			return err
		}
	}
	return nil
}
