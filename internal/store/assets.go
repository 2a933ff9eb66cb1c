package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"meshpatch/internal/identity"
)

const assetColumns = "id, base_manifest_id, derived_manifest_id, base_content_hash, derived_content_hash, patch_hash, patch_size, transform_precision, correspondence_json, report_json, friendly_name, category, thumbnail, base_identity, derived_identity, policy, source_base_path, source_modified_path, created_at"

// InsertAsset records a new derived asset. Assets are immutable; inserting an
// existing ID fails.
func (s *Store) InsertAsset(ctx context.Context, a *Asset) error {
	if a == nil || a.ID == "" {
		return errors.New("asset id is required")
	}
	mapping, err := json.Marshal(a.Correspondence)
	if err != nil {
		return fmt.Errorf("marshal correspondence: %w", err)
	}
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO derived_assets (`+assetColumns+`, confidence)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.BaseManifestID,
		a.DerivedManifestID,
		a.BaseContentHash,
		a.DerivedContentHash,
		a.PatchHash,
		a.PatchSize,
		a.TransformPrecision,
		string(mapping),
		string(report),
		a.UIHints.FriendlyName,
		nullableString(a.UIHints.Category),
		nullableString(a.UIHints.Thumbnail),
		nullableString(string(a.BaseIdentity)),
		string(a.DerivedIdentity),
		string(a.Policy),
		nullableString(a.SourceBasePath),
		nullableString(a.SourceModifiedPath),
		formatTime(a.CreatedAt),
		float64(a.Correspondence.Confidence),
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func scanAsset(row scanner) (*Asset, error) {
	var (
		a          Asset
		mapping    string
		report     string
		category   sql.NullString
		thumbnail  sql.NullString
		baseID     sql.NullString
		derivedID  string
		policy     string
		sourceBase sql.NullString
		sourceMod  sql.NullString
		createdRaw sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.BaseManifestID,
		&a.DerivedManifestID,
		&a.BaseContentHash,
		&a.DerivedContentHash,
		&a.PatchHash,
		&a.PatchSize,
		&a.TransformPrecision,
		&mapping,
		&report,
		&a.UIHints.FriendlyName,
		&category,
		&thumbnail,
		&baseID,
		&derivedID,
		&policy,
		&sourceBase,
		&sourceMod,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mapping), &a.Correspondence); err != nil {
		return nil, fmt.Errorf("decode correspondence for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(report), &a.Report); err != nil {
		return nil, fmt.Errorf("decode report for %s: %w", a.ID, err)
	}
	a.UIHints.Category = category.String
	a.UIHints.Thumbnail = thumbnail.String
	a.BaseIdentity = identity.Ref(baseID.String)
	a.DerivedIdentity = identity.Ref(derivedID)
	a.Policy = identity.Policy(policy)
	a.SourceBasePath = sourceBase.String
	a.SourceModifiedPath = sourceMod.String
	a.CreatedAt = parseTime(createdRaw)
	return &a, nil
}

// GetAsset fetches an asset by ID. A missing asset returns nil, nil.
func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM derived_assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// ListAssets returns all assets, newest first.
func (s *Store) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.queryAssets(ctx, `SELECT `+assetColumns+` FROM derived_assets ORDER BY created_at DESC, id`)
}

// FindAssetsByBaseManifest returns assets built against the given base manifest.
func (s *Store) FindAssetsByBaseManifest(ctx context.Context, manifestID string) ([]*Asset, error) {
	return s.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM derived_assets WHERE base_manifest_id = ? ORDER BY created_at DESC, id`,
		manifestID)
}

func (s *Store) queryAssets(ctx context.Context, query string, args ...any) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ResolveAssetID expands a unique ID prefix to a full asset ID.
func (s *Store) ResolveAssetID(ctx context.Context, prefix string) (string, error) {
	return s.resolvePrefix(ctx, "derived_assets", prefix)
}

func (s *Store) resolvePrefix(ctx context.Context, table, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("empty id: %w", ErrNotFound)
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM `+table+` WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, escaped+"%")
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%q: %w", prefix, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		for _, id := range ids {
			if id == prefix {
				return id, nil
			}
		}
		return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
	}
}

// DeleteAsset removes an asset row. Assets with applied states cannot be
// deleted.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM derived_assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountPatchReferences returns how many assets reference a patch blob.
func (s *Store) CountPatchReferences(ctx context.Context, patchHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM derived_assets WHERE patch_hash = ?`, patchHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patch references: %w", err)
	}
	return n, nil
}
