package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meshpatch/internal/identity"
)

const stateColumns = "id, derived_asset_id, target_path, target_manifest_id, target_identity, base_path, output_path, correspondence_map_id, confidence, confidence_override, confirmed, enabled, status, policy, created_at, updated_at"

// SaveState inserts or replaces a state and its outputs in one transaction.
// Outputs are replaced wholesale, never appended.
func (s *Store) SaveState(ctx context.Context, st *State) error {
	if st == nil || st.ID == "" {
		return errors.New("state id is required")
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO applied_states (`+stateColumns+`)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                 derived_asset_id = excluded.derived_asset_id,
                 target_path = excluded.target_path,
                 target_manifest_id = excluded.target_manifest_id,
                 target_identity = excluded.target_identity,
                 base_path = excluded.base_path,
                 output_path = excluded.output_path,
                 correspondence_map_id = excluded.correspondence_map_id,
                 confidence = excluded.confidence,
                 confidence_override = excluded.confidence_override,
                 confirmed = excluded.confirmed,
                 enabled = excluded.enabled,
                 status = excluded.status,
                 policy = excluded.policy,
                 updated_at = excluded.updated_at`,
			st.ID,
			st.DerivedAssetID,
			st.TargetPath,
			st.TargetManifestID,
			nullableString(string(st.TargetIdentity)),
			st.BasePath,
			st.OutputPath,
			st.CorrespondenceMapID,
			float64(st.Confidence),
			nullableFloat(st.ConfidenceOverride),
			boolToInt(st.Confirmed),
			boolToInt(st.Enabled),
			string(st.Status),
			string(st.Policy),
			formatTime(st.CreatedAt),
			formatTime(st.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM produced_outputs WHERE state_id = ?`, st.ID); err != nil {
			return fmt.Errorf("clear outputs: %w", err)
		}
		for i, out := range st.Outputs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO produced_outputs (state_id, position, path, identity, prior_identity, had_prior, content_hash, size)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				st.ID, i, out.Path,
				nullableString(string(out.Identity)),
				nullableString(string(out.PriorIdentity)),
				boolToInt(out.HadPrior),
				out.ContentHash,
				out.Size,
			)
			if err != nil {
				return fmt.Errorf("insert output %s: %w", out.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func scanState(row scanner) (*State, error) {
	var (
		st         State
		targetID   sql.NullString
		override   sql.NullFloat64
		confidence float64
		confirmed  int
		enabled    int
		status     string
		policy     string
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(
		&st.ID,
		&st.DerivedAssetID,
		&st.TargetPath,
		&st.TargetManifestID,
		&targetID,
		&st.BasePath,
		&st.OutputPath,
		&st.CorrespondenceMapID,
		&confidence,
		&override,
		&confirmed,
		&enabled,
		&status,
		&policy,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	st.TargetIdentity = identity.Ref(targetID.String)
	st.Confidence = float32(confidence)
	if override.Valid {
		v := float32(override.Float64)
		st.ConfidenceOverride = &v
	}
	st.Confirmed = confirmed != 0
	st.Enabled = enabled != 0
	st.Status = Status(status)
	st.Policy = identity.Policy(policy)
	st.CreatedAt = parseTime(createdRaw)
	st.UpdatedAt = parseTime(updatedRaw)
	return &st, nil
}

func (s *Store) loadOutputs(ctx context.Context, st *State) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, identity, prior_identity, had_prior, content_hash, size
         FROM produced_outputs WHERE state_id = ? ORDER BY position`, st.ID)
	if err != nil {
		return fmt.Errorf("load outputs: %w", err)
	}
	defer rows.Close()

	st.Outputs = []Output{}
	for rows.Next() {
		var (
			out      Output
			ident    sql.NullString
			prior    sql.NullString
			hadPrior int
		)
		if err := rows.Scan(&out.Path, &ident, &prior, &hadPrior, &out.ContentHash, &out.Size); err != nil {
			return fmt.Errorf("scan output: %w", err)
		}
		out.Identity = identity.Ref(ident.String)
		out.PriorIdentity = identity.Ref(prior.String)
		out.HadPrior = hadPrior != 0
		st.Outputs = append(st.Outputs, out)
	}
	return rows.Err()
}

// GetState fetches a state with its outputs. A missing state returns nil, nil.
func (s *Store) GetState(ctx context.Context, id string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM applied_states WHERE id = ?`, id)
	return s.finishState(ctx, row)
}

// FindStateByOutput returns the state that produced outputPath, or nil.
func (s *Store) FindStateByOutput(ctx context.Context, outputPath string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM applied_states WHERE output_path = ?`, outputPath)
	return s.finishState(ctx, row)
}

func (s *Store) finishState(ctx context.Context, row *sql.Row) (*State, error) {
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if err := s.loadOutputs(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ListStates returns all states with outputs, newest first. When assetID is
// not empty only states of that asset are returned.
func (s *Store) ListStates(ctx context.Context, assetID string) ([]*State, error) {
	query := `SELECT ` + stateColumns + ` FROM applied_states`
	var args []any
	if assetID != "" {
		query += ` WHERE derived_asset_id = ?`
		args = append(args, assetID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	var states []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Outputs are loaded after the cursor is closed; the store holds a
	// single connection.
	for _, st := range states {
		if err := s.loadOutputs(ctx, st); err != nil {
			return nil, err
		}
	}
	return states, nil
}

// ResolveStateID expands a unique ID prefix to a full state ID.
func (s *Store) ResolveStateID(ctx context.Context, prefix string) (string, error) {
	return s.resolvePrefix(ctx, "applied_states", prefix)
}

// SetStateEnabled flips the enabled flag without touching outputs.
func (s *Store) SetStateEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateState(ctx, `UPDATE applied_states SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), formatTime(time.Now()), id)
}

// SetStateStatus records a lifecycle transition.
func (s *Store) SetStateStatus(ctx context.Context, id string, status Status) error {
	return s.updateState(ctx, `UPDATE applied_states SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
}

func (s *Store) updateState(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("state %v: %w", args[len(args)-1], ErrNotFound)
	}
	return nil
}

// DeleteState removes a state and its outputs.
func (s *Store) DeleteState(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM produced_outputs WHERE state_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM applied_states WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("state %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
