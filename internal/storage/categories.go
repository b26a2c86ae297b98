package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ricevute/internal/core"
)

// ListCategories returns the full taxonomy, level-1 groups first, stable by
// name within a level. Ingestion matching depends on this order being
// deterministic.
func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	const q = `
		SELECT id, name, level, COALESCE(parent_id, ''), COALESCE(color, ''), COALESCE(icon, '')
		FROM categories
		ORDER BY level, name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Level, &c.ParentID, &c.Color, &c.Icon); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, level, COALESCE(parent_id, ''), COALESCE(color, ''), COALESCE(icon, '')
		FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Level, &c.ParentID, &c.Color, &c.Icon)
	if err == sql.ErrNoRows {
		return core.Category{}, ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}
