package server

import "civitrack/internal/domain"

// Request payloads

type CreateWorkOrderRequest struct {
	ReportID   string  `json:"report_id"`
	AssigneeID *string `json:"assignee_id,omitempty"`
}

type UpdateWorkOrderRequest struct {
	Status     *string `json:"status,omitempty" enum:"Submitted,Accepted,In-progress,Completed,Rejected"`
	AssigneeID *string `json:"assignee_id,omitempty"`
}

type SubmitReportRequest struct {
	Classification string  `json:"classification"`
	Location       *string `json:"location,omitempty"`
	Measurement    *string `json:"measurement,omitempty"`
	SubmittedBy    *string `json:"submitted_by,omitempty"`
	Description    *string `json:"description,omitempty"`
}

type AppendAuditEntryRequest struct {
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Action     string  `json:"action"`
	OldValue   *string `json:"old_value,omitempty"`
	NewValue   *string `json:"new_value,omitempty"`
}

type PurgeAuditRequest struct {
	Before string `json:"before" format:"date-time"`
}

// Response payloads

type PaginatedAuditEntries struct {
	Items      []domain.AuditEntry `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type PurgeAuditResponse struct {
	Deleted int64  `json:"deleted"`
	Before  string `json:"before" format:"date-time"`
}

type StatusCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
