package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ricevute/internal/core"
)

// UpsertProfile creates or refreshes the profile row for a user. The auth
// subsystem owns identity; this table only mirrors what the roster views
// need.
func (r *Repository) UpsertProfile(ctx context.Context, p core.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		p.ID, p.Name, p.Email)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *Repository) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	var p core.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(name, ''), COALESCE(email, ''), created_at FROM profiles WHERE id = ?`,
		userID).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return core.Profile{}, ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetProfiles batch-fetches profiles for a set of user ids in one query.
// This is the second step of the roster join; callers must never loop over
// it per member.
func (r *Repository) GetProfiles(ctx context.Context, userIDs []string) ([]core.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(userIDs)-1) + "?"
	q := fmt.Sprintf(
		`SELECT id, COALESCE(name, ''), COALESCE(email, ''), created_at FROM profiles WHERE id IN (%s)`,
		placeholders)

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []core.Profile
	for rows.Next() {
		var p core.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
