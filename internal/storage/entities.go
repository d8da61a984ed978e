package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/canon/internal/content"
)

// CreateUniverse stores u together with its four categories.
func (s *Store) CreateUniverse(ctx context.Context, u content.Universe) (content.Universe, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return content.Universe{}, err
	}
	defer tx.Rollback()

	ts := formatTime(u.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO universes (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Description, ts); err != nil {
		return content.Universe{}, fmt.Errorf("create universe %s: %w", u.ID, err)
	}
	for _, c := range content.Categories() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (universe_id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			u.ID, c.Name, c.Description, ts); err != nil {
			return content.Universe{}, fmt.Errorf("create category %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return content.Universe{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC().Truncate(time.Millisecond)
	return u, nil
}

// ListUniverses returns every universe, newest first.
func (s *Store) ListUniverses(ctx context.Context) ([]content.Universe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM universes ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list universes: %w", err)
	}
	defer rows.Close()

	var out []content.Universe
	for rows.Next() {
		u, err := scanUniverse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUniverse returns the universe with id, or ErrNotFound.
func (s *Store) GetUniverse(ctx context.Context, id string) (content.Universe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM universes WHERE id = ?`, id)
	u, err := scanUniverse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Universe{}, ErrNotFound
	}
	return u, err
}

// CreateEntity persists e. When e.JobID already produced an entity, that
// entity is returned unchanged and e is discarded. A non-empty UniverseID
// must name an existing universe.
func (s *Store) CreateEntity(ctx context.Context, e content.Entity) (content.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return content.Entity{}, err
	}
	defer tx.Rollback()

	if e.JobID != "" {
		row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE job_id = ?`, e.JobID)
		existing, err := scanEntity(row)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return content.Entity{}, err
		}
	}

	if e.UniverseID != "" {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM universes WHERE id = ?`, e.UniverseID).Scan(&n); err != nil {
			return content.Entity{}, err
		}
		if n == 0 {
			return content.Entity{}, fmt.Errorf("universe %s: %w", e.UniverseID, ErrNotFound)
		}
	}

	category := ""
	if t, err := content.ParseType(e.Type); err == nil {
		category = t.Category()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (id, job_id, universe_id, category, type, name, title, markdown, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.UniverseID, category, e.Type, e.Name, e.Title, e.Markdown, e.Summary,
		formatTime(e.CreatedAt)); err != nil {
		return content.Entity{}, fmt.Errorf("create entity %s: %w", e.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return content.Entity{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)
	return e, nil
}

// GetEntity returns the entity with id, or ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, id string) (content.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Entity{}, ErrNotFound
	}
	return e, err
}

// ListEntities returns entities in universeID, oldest first. An empty t
// matches every type.
func (s *Store) ListEntities(ctx context.Context, universeID string, t content.Type) ([]content.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE universe_id = ?`
	args := []any{universeID}
	if t != "" {
		query += ` AND type = ?`
		args = append(args, t.Label())
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []content.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entityColumns = `id, job_id, universe_id, type, name, title, markdown, summary, created_at`

func scanEntity(row rowScanner) (content.Entity, error) {
	var e content.Entity
	var createdAt string
	if err := row.Scan(&e.ID, &e.JobID, &e.UniverseID, &e.Type, &e.Name, &e.Title,
		&e.Markdown, &e.Summary, &createdAt); err != nil {
		return content.Entity{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return content.Entity{}, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

func scanUniverse(row rowScanner) (content.Universe, error) {
	var u content.Universe
	var createdAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Description, &createdAt); err != nil {
		return content.Universe{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return content.Universe{}, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}
