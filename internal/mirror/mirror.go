// Package mirror propagates a work order's status onto its source report.
// The propagation is deliberately non-transactional with the work-order
// write: the two records live in different storage domains and a failed
// sync is surfaced rather than rolled back.
package mirror

import "context"

// ReportStore is the narrow view of the report collaborator the mirror needs.
type ReportStore interface {
	SetReportStatus(ctx context.Context, id, status string) error
}

type Mirror struct {
	Reports ReportStore
}

// SyncStatus overwrites the report's status field with the given value.
func (m Mirror) SyncStatus(ctx context.Context, reportID, status string) error {
	return m.Reports.SetReportStatus(ctx, reportID, status)
}
