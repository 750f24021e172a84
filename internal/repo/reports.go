package repo

import (
	"context"
	"database/sql"

	"civitrack/internal/domain"
)

const reportCols = `id,classification,COALESCE(location,''),COALESCE(measurement,''),status,COALESCE(submitted_by,''),COALESCE(description,''),created_at`

func scanReport(scan func(dest ...any) error) (domain.Report, error) {
	var p domain.Report
	err := scan(&p.ID, &p.Classification, &p.Location, &p.Measurement, &p.Status, &p.SubmittedBy, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertReport(ctx context.Context, p domain.Report) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reports(id,classification,location,measurement,status,submitted_by,description,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Classification, nullable(p.Location), nullable(p.Measurement), p.Status,
		nullable(p.SubmittedBy), nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportCols+` FROM reports WHERE id=?`, id).Scan)
}

func (r Repo) ListReports(ctx context.Context) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportCols+` FROM reports ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		p, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetReportStatus overwrites only the status field; the engine must never
// touch any other report field.
func (r Repo) SetReportStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE reports SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountReportsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{
		domain.StatusSubmitted:  0,
		domain.StatusAccepted:   0,
		domain.StatusInProgress: 0,
		domain.StatusCompleted:  0,
		domain.StatusRejected:   0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
