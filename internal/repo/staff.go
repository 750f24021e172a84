package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civitrack/internal/domain"
)

func (r Repo) InsertStaff(ctx context.Context, s domain.Staff) error {
	if s.ID == "" {
		return errors.New("id required")
	}
	if s.Name == "" {
		return errors.New("name required")
	}
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO staff(id,name,position,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Name, nullable(s.Position), s.CreatedAt)
	return err
}

func (r Repo) GetStaff(ctx context.Context, id string) (domain.Staff, error) {
	var s domain.Staff
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(position,''),created_at FROM staff WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.Position, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(position,''),created_at FROM staff ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Staff
	for rows.Next() {
		var s domain.Staff
		if err := rows.Scan(&s.ID, &s.Name, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// EnsureStaff inserts a staff record if missing; used when bootstrapping
// local actors.
func (r Repo) EnsureStaff(ctx context.Context, id, name, position string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO staff(id,name,position,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO NOTHING`, id, name, nullable(position), now)
	return err
}
