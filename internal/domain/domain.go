package domain

// Status values shared by reports and work orders.
const (
	StatusSubmitted  = "Submitted"
	StatusAccepted   = "Accepted"
	StatusInProgress = "In-progress"
	StatusCompleted  = "Completed"
	StatusRejected   = "Rejected"
)

// Terminal reports whether a status permits no further mutation.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusRejected
}

// ValidStatus reports whether s is one of the known status values.
func ValidStatus(s string) bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Report is a citizen-submitted complaint. The engine only ever touches
// its status field; everything else belongs to the intake surface.
type Report struct {
	ID             string `json:"id"`
	Classification string `json:"classification"`
	Location       string `json:"location,omitempty"`
	Measurement    string `json:"measurement,omitempty"`
	Status         string `json:"status" enum:"Submitted,Accepted,In-progress,Completed,Rejected"`
	SubmittedBy    string `json:"submitted_by,omitempty"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// WorkOrder tracks the assignment and resolution of exactly one report.
type WorkOrder struct {
	ID                   string  `json:"id"`
	ReportID             string  `json:"report_id"`
	SequenceNumber       string  `json:"sequence_number"`
	Status               string  `json:"status" enum:"Submitted,Accepted,In-progress,Completed,Rejected"`
	AssignedTo           *string `json:"assigned_to,omitempty"`
	EvidenceHandle       *string `json:"evidence_handle,omitempty"`
	EvidenceOriginalName *string `json:"evidence_original_name,omitempty"`
	CompletionAt         *string `json:"completion_at,omitempty" format:"date-time"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// AuditEntry is one immutable record of a state-changing action. The actor
// name is resolved when the entry is written and never re-resolved, so later
// renames do not rewrite history.
type AuditEntry struct {
	ID            int64   `json:"id"`
	ActorID       string  `json:"actor_id"`
	ActorName     string  `json:"actor_name"`
	EntityType    string  `json:"entity_type"`
	EntityID      string  `json:"entity_id"`
	Action        string  `json:"action"`
	OldValue      *string `json:"old_value,omitempty"`
	NewValue      *string `json:"new_value,omitempty"`
	OriginAddress string  `json:"origin_address"`
	RecordedAt    string  `json:"recorded_at" format:"date-time"`
}

// Staff is a municipal employee: the pool of assignees and audit actors.
type Staff struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  string `json:"position,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
