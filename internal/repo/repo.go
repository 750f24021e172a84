package repo

import (
	"context"
	"database/sql"
	"errors"

	"civitrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workOrderCols = `id,report_id,sequence_number,status,assigned_to,evidence_handle,evidence_original_name,completion_at,created_at,updated_at`

func scanWorkOrder(scan func(dest ...any) error) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var assignedTo, handle, origName, completionAt sql.NullString
	err := scan(&w.ID, &w.ReportID, &w.SequenceNumber, &w.Status, &assignedTo, &handle, &origName, &completionAt, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if assignedTo.Valid {
		w.AssignedTo = &assignedTo.String
	}
	if handle.Valid {
		w.EvidenceHandle = &handle.String
	}
	if origName.Valid {
		w.EvidenceOriginalName = &origName.String
	}
	if completionAt.Valid {
		w.CompletionAt = &completionAt.String
	}
	return w, nil
}

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+workOrderCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.ReportID, w.SequenceNumber, w.Status, nullableStringPtr(w.AssignedTo),
		nullableStringPtr(w.EvidenceHandle), nullableStringPtr(w.EvidenceOriginalName),
		nullableStringPtr(w.CompletionAt), w.CreatedAt, w.UpdatedAt)
	return err
}

// UpdateWorkOrder writes the full row; the engine merges partial changes
// into the fetched entity before calling this.
func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET status=?, assigned_to=?, evidence_handle=?, evidence_original_name=?, completion_at=?, updated_at=? WHERE id=?`,
		w.Status, nullableStringPtr(w.AssignedTo), nullableStringPtr(w.EvidenceHandle),
		nullableStringPtr(w.EvidenceOriginalName), nullableStringPtr(w.CompletionAt), w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkOrder removes the row and returns its last state for mirroring
// and audit purposes.
func (r Repo) DeleteWorkOrder(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	w, err := scanWorkOrder(tx.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE id=?`, id).Scan)
	if err != nil {
		return w, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM work_orders WHERE id=?`, id); err != nil {
		return w, err
	}
	return w, nil
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE id=?`, id).Scan)
}

// GetWorkOrderByReport is the reportId lookup index: at most one work order
// per report, enforced by the engine rather than the schema.
func (r Repo) GetWorkOrderByReport(ctx context.Context, reportID string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE report_id=? LIMIT 1`, reportID).Scan)
}

func (r Repo) ListWorkOrders(ctx context.Context) ([]domain.WorkOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workOrderCols+` FROM work_orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
