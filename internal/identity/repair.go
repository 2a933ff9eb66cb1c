package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meshpatch/internal/logging"
)

// Host resolves and binds identities for paths. It is implemented by the
// surrounding asset-management system.
type Host interface {
	ResolveIdentity(ctx context.Context, path string) (Ref, bool, error)
	BindIdentity(ctx context.Context, path string, ref Ref) error
}

// Unbinder is implemented by hosts that can remove a path's identity
// entirely. Revert uses it when the output had no identity before repair.
type Unbinder interface {
	UnbindIdentity(ctx context.Context, path string) error
}

// Binding records that ref was bound to path on behalf of owner.
type Binding struct {
	Ref   Ref
	Path  string
	Owner string
}

// Tracker remembers which identities meshpatch has bound, so repairs cannot
// take over an identity that belongs to an unrelated asset.
type Tracker interface {
	// Binding returns the current binding for ref, or nil.
	Binding(ctx context.Context, ref Ref) (*Binding, error)
	Bind(ctx context.Context, b Binding) error
	Unbind(ctx context.Context, ref Ref, path string) error
}

// RepairRequest describes one output whose identity needs repair.
type RepairRequest struct {
	OutputPath      string
	Policy          Policy
	TargetIdentity  Ref
	DerivedIdentity Ref
	// Owner identifies the applied state doing the repair.
	Owner string
}

// Outcome records a completed repair, with enough detail to revert it.
type Outcome struct {
	Path     string `json:"path"`
	Identity Ref    `json:"identity"`
	Prior    Ref    `json:"prior,omitempty"`
	HadPrior bool   `json:"had_prior"`
	Policy   Policy `json:"policy"`
	Owner    string `json:"owner"`
}

// Repairer applies identity policies through a Host and Tracker.
type Repairer struct {
	host    Host
	tracker Tracker
	logger  *slog.Logger
}

// NewRepairer constructs a Repairer.
func NewRepairer(host Host, tracker Tracker, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Repairer{host: host, tracker: tracker, logger: logging.NewComponentLogger(logger, "identity")}
}

// Repair binds the policy-selected identity to the output path.
func (r *Repairer) Repair(ctx context.Context, req RepairRequest) (Outcome, error) {
	ref, err := selectIdentity(req)
	if err != nil {
		return Outcome{}, err
	}

	if bound, err := r.tracker.Binding(ctx, ref); err != nil {
		return Outcome{}, fmt.Errorf("look up binding: %w", err)
	} else if bound != nil && bound.Path != req.OutputPath && bound.Owner != req.Owner {
		return Outcome{}, &RepairError{
			Kind:       IdentityCollision,
			Ref:        ref,
			Path:       req.OutputPath,
			BoundPath:  bound.Path,
			BoundOwner: bound.Owner,
		}
	}

	prior, hadPrior, err := r.host.ResolveIdentity(ctx, req.OutputPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve prior identity: %w", err)
	}
	outcome := Outcome{
		Path:     req.OutputPath,
		Identity: ref,
		Prior:    prior,
		HadPrior: hadPrior,
		Policy:   req.Policy,
		Owner:    req.Owner,
	}

	if err := r.host.BindIdentity(ctx, req.OutputPath, ref); err != nil {
		return Outcome{}, fmt.Errorf("bind identity: %w", err)
	}
	if err := r.tracker.Bind(ctx, Binding{Ref: ref, Path: req.OutputPath, Owner: req.Owner}); err != nil {
		if restoreErr := r.restoreHost(ctx, outcome); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return Outcome{}, fmt.Errorf("track identity: %w", err)
	}

	r.logger.Debug("identity repaired",
		logging.Path(req.OutputPath),
		logging.String("identity", string(ref)),
		logging.String("policy", string(req.Policy)),
		logging.Bool("had_prior", hadPrior))
	return outcome, nil
}

// Revert restores the identity the output had before Repair.
func (r *Repairer) Revert(ctx context.Context, o Outcome) error {
	if err := r.restoreHost(ctx, o); err != nil {
		return err
	}
	if err := r.tracker.Unbind(ctx, o.Identity, o.Path); err != nil {
		return fmt.Errorf("untrack identity: %w", err)
	}
	r.logger.Debug("identity reverted",
		logging.Path(o.Path),
		logging.String("identity", string(o.Identity)),
		logging.Bool("had_prior", o.HadPrior))
	return nil
}

func (r *Repairer) restoreHost(ctx context.Context, o Outcome) error {
	if o.HadPrior {
		if err := r.host.BindIdentity(ctx, o.Path, o.Prior); err != nil {
			return fmt.Errorf("restore prior identity: %w", err)
		}
		return nil
	}
	if u, ok := r.host.(Unbinder); ok {
		if err := u.UnbindIdentity(ctx, o.Path); err != nil {
			return fmt.Errorf("remove identity: %w", err)
		}
	}
	return nil
}

func selectIdentity(req RepairRequest) (Ref, error) {
	switch req.Policy {
	case PolicyPreserve:
		if req.TargetIdentity.IsZero() {
			// The target never had an identity; give the output a fresh one.
			return NewRef(), nil
		}
		return req.TargetIdentity, nil
	case PolicyRebind:
		if req.DerivedIdentity.IsZero() {
			return "", errors.New("rebind policy requires a derived identity")
		}
		return req.DerivedIdentity, nil
	default:
		return "", fmt.Errorf("unknown identity policy %q", req.Policy)
	}
}
