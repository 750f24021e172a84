package repo

import (
	"context"
	"database/sql"

	"civitrack/internal/domain"
)

const auditCols = `id,actor_id,actor_name,entity_type,entity_id,action,old_value,new_value,origin_address,recorded_at`

func scanAuditEntry(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var oldVal, newVal sql.NullString
	err := scan(&e.ID, &e.ActorID, &e.ActorName, &e.EntityType, &e.EntityID, &e.Action, &oldVal, &newVal, &e.OriginAddress, &e.RecordedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if oldVal.Valid {
		e.OldValue = &oldVal.String
	}
	if newVal.Valid {
		e.NewValue = &newVal.String
	}
	return e, nil
}

// InsertAuditEntry appends one entry and returns it with the assigned id.
// There is no update or single-row delete path anywhere in the repo.
func (r Repo) InsertAuditEntry(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO audit_entries(actor_id,actor_name,entity_type,entity_id,action,old_value,new_value,origin_address,recorded_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ActorID, e.ActorName, e.EntityType, e.EntityID, e.Action,
		nullableStringPtr(e.OldValue), nullableStringPtr(e.NewValue), e.OriginAddress, e.RecordedAt)
	if err != nil {
		return e, err
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

type AuditFilters struct {
	EntityType string
	EntityID   string
	ActorID    string
	Limit      int
	Cursor     int64
}

// ListAuditEntries returns entries newest first, optionally below a cursor id.
func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := `SELECT ` + auditCols + ` FROM audit_entries WHERE ` + joinAnd(clauses) + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// PurgeAuditEntriesBefore bulk-deletes entries recorded before the cutoff.
// This is the only deletion path and callers must gate it on privilege.
func (r Repo) PurgeAuditEntriesBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM audit_entries WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
