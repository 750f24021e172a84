package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"civitrack/internal/audit"
	"civitrack/internal/config"
	"civitrack/internal/domain"
	"civitrack/internal/evidence"
	"civitrack/internal/mirror"
	"civitrack/internal/repo"
	"civitrack/internal/seq"
)

// Error taxonomy. NotFound is repo.ErrNotFound and allocation outages are
// seq.ErrUnavailable; both pass through unchanged.
var (
	ErrAlreadyTerminal = errors.New("work order is in a terminal status")
	ErrUnassigned      = errors.New("work order has no assignee")
	ErrMissingEvidence = errors.New("completion document required")
	ErrMirrorFailed    = errors.New("report status sync failed")
)

// EntityWorkOrder is the entity type recorded on audit entries written here.
const EntityWorkOrder = "WorkOrder"

// Audit actions. Status-flavored actions record the bare status string as
// the value snapshot; the assignee action records display names.
const (
	ActionCreated         = "Created work order"
	ActionStatusChanged   = "Changed work order status"
	ActionAssigneeChanged = "Changed work order assignee"
	ActionDeleted         = "Deleted work order"
)

// Engine is the only component allowed to mutate work orders. Every
// mutation commits first, then audits (best effort), then mirrors the
// status onto the source report.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Seq      seq.Allocator
	Audit    audit.Writer
	Mirror   mirror.Mirror
	Evidence evidence.Store
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, ev evidence.Store) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Seq:      seq.SQLiteAllocator{DB: db},
		Audit:    audit.Writer{Repo: r, Resolver: audit.StaffResolver{Repo: r}},
		Mirror:   mirror.Mirror{Reports: r},
		Evidence: ev,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logf(format string, args ...any) {
	logger := e.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}

// record appends an audit entry without blocking the operation; a lost
// entry is logged rather than failing legitimate work.
func (e Engine) record(ctx context.Context, actorID, entityID, action string, oldValue, newValue *string, origin string) {
	if _, err := e.Audit.Record(ctx, actorID, EntityWorkOrder, entityID, action, oldValue, newValue, origin); err != nil {
		e.logf("audit write failed for %s on %s: %v", action, entityID, err)
	}
}

// displayName resolves an assignee to a display name for audit snapshots,
// falling back to the raw id.
func (e Engine) displayName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	if e.Audit.Resolver != nil {
		if name, err := e.Audit.Resolver.ResolveActorName(ctx, id); err == nil && name != "" {
			return name
		}
	}
	return id
}

// mirrorStatus propagates a status onto the report. The work order change
// has already committed, so failure is surfaced as ErrMirrorFailed and
// never rolled back; a reconciliation pass is the recovery mechanism.
func (e Engine) mirrorStatus(ctx context.Context, reportID, status string) error {
	if err := e.Mirror.SyncStatus(ctx, reportID, status); err != nil {
		return fmt.Errorf("%w: report %s: %v", ErrMirrorFailed, reportID, err)
	}
	return nil
}

type AssignOptions struct {
	ReportID   string
	AssigneeID string
	ActorID    string
	Origin     string
}

// CreateOrAssign creates a work order for the report at status Submitted,
// or changes the assignee of the existing one. Re-assigning preserves the
// current status; terminal work orders reject any further assignment.
func (e Engine) CreateOrAssign(ctx context.Context, opts AssignOptions) (domain.WorkOrder, error) {
	if opts.ReportID == "" {
		return domain.WorkOrder{}, errors.New("report id is required")
	}
	if _, err := e.Repo.GetReport(ctx, opts.ReportID); err != nil {
		return domain.WorkOrder{}, err
	}

	existing, err := e.Repo.GetWorkOrderByReport(ctx, opts.ReportID)
	if err == nil {
		return e.reassign(ctx, existing, opts)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkOrder{}, err
	}

	// The allocation happens before the insert; if the insert fails the
	// number is burned. Gaps are tolerated, duplicates are not.
	key := seq.PeriodKey(e.now())
	n, err := e.Seq.Next(ctx, key)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := domain.WorkOrder{
		ID:             uuid.New().String(),
		ReportID:       opts.ReportID,
		SequenceNumber: seq.Format(e.Config.Numbering.Prefix, key, n, e.Config.Numbering.Pad),
		Status:         domain.StatusSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.AssigneeID != "" {
		w.AssignedTo = &opts.AssigneeID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkOrder(ctx, tx, w); err != nil {
		return domain.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.record(ctx, opts.ActorID, w.ID, ActionCreated, nil, audit.Value(w.Status), opts.Origin)
	if err := e.mirrorStatus(ctx, w.ReportID, w.Status); err != nil {
		return w, err
	}
	return w, nil
}

func (e Engine) reassign(ctx context.Context, w domain.WorkOrder, opts AssignOptions) (domain.WorkOrder, error) {
	if domain.Terminal(w.Status) {
		return w, ErrAlreadyTerminal
	}
	oldAssignee := ""
	if w.AssignedTo != nil {
		oldAssignee = *w.AssignedTo
	}
	if oldAssignee == opts.AssigneeID {
		return w, nil
	}
	if opts.AssigneeID == "" {
		w.AssignedTo = nil
	} else {
		w.AssignedTo = &opts.AssigneeID
	}
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	e.record(ctx, opts.ActorID, w.ID, ActionAssigneeChanged,
		assigneeValue(e.displayName(ctx, oldAssignee)), assigneeValue(e.displayName(ctx, opts.AssigneeID)), opts.Origin)
	return w, nil
}

// Upload carries a completion document into a terminal status change.
type Upload struct {
	Content      io.Reader
	OriginalName string
}

type UpdateOptions struct {
	ID               string
	Status           string
	Assignee         *string
	AssigneeProvided bool
	Evidence         *Upload
	ActorID          string
	Origin           string
}

// Update applies a status and/or assignee change to one work order. A
// single call touching both fields writes two audit entries, one per
// changed field. A target of Submitted deletes the work order.
func (e Engine) Update(ctx context.Context, opts UpdateOptions) (domain.WorkOrder, error) {
	if opts.Status == "" && !opts.AssigneeProvided {
		return domain.WorkOrder{}, errors.New("nothing to update")
	}
	if opts.Status != "" && !domain.ValidStatus(opts.Status) {
		return domain.WorkOrder{}, fmt.Errorf("invalid status %q", opts.Status)
	}
	if opts.Status == domain.StatusSubmitted {
		return e.Delete(ctx, opts.ID, opts.ActorID, opts.Origin)
	}

	w, err := e.Repo.GetWorkOrder(ctx, opts.ID)
	if err != nil {
		return w, err
	}
	if domain.Terminal(w.Status) {
		return w, ErrAlreadyTerminal
	}

	prev := w
	assigneeChanged := false
	if opts.AssigneeProvided {
		oldID := ""
		if w.AssignedTo != nil {
			oldID = *w.AssignedTo
		}
		newID := ""
		if opts.Assignee != nil {
			newID = *opts.Assignee
		}
		if oldID != newID {
			assigneeChanged = true
			if newID == "" {
				w.AssignedTo = nil
			} else {
				w.AssignedTo = &newID
			}
		}
	}

	statusChanged := opts.Status != "" && opts.Status != prev.Status
	if statusChanged {
		// Advancing past Submitted requires an assignee; the assignee set
		// in this same call counts.
		if w.AssignedTo == nil {
			return prev, ErrUnassigned
		}
		if domain.Terminal(opts.Status) {
			if opts.Evidence == nil {
				return prev, ErrMissingEvidence
			}
			// The upload must complete before the status update is issued;
			// an orphaned file after a failed update is harmless.
			handle, err := e.Evidence.Save(ctx, opts.Evidence.Content, opts.Evidence.OriginalName)
			if err != nil {
				return prev, fmt.Errorf("store evidence: %w", err)
			}
			completion := e.now().UTC().Format(time.RFC3339)
			w.EvidenceHandle = &handle
			w.EvidenceOriginalName = &opts.Evidence.OriginalName
			w.CompletionAt = &completion
		}
		w.Status = opts.Status
	}
	if !statusChanged && !assigneeChanged {
		return prev, nil
	}

	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return prev, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return prev, err
	}
	if err := tx.Commit(); err != nil {
		return prev, err
	}

	if assigneeChanged {
		oldID := ""
		if prev.AssignedTo != nil {
			oldID = *prev.AssignedTo
		}
		newID := ""
		if w.AssignedTo != nil {
			newID = *w.AssignedTo
		}
		e.record(ctx, opts.ActorID, w.ID, ActionAssigneeChanged,
			assigneeValue(e.displayName(ctx, oldID)), assigneeValue(e.displayName(ctx, newID)), opts.Origin)
	}
	if statusChanged {
		action := ActionStatusChanged
		if opts.Evidence != nil && domain.Terminal(w.Status) {
			action = fmt.Sprintf("Uploaded inspection report %q", opts.Evidence.OriginalName)
		}
		e.record(ctx, opts.ActorID, w.ID, action, audit.Value(prev.Status), audit.Value(w.Status), opts.Origin)
		if err := e.mirrorStatus(ctx, w.ReportID, w.Status); err != nil {
			return w, err
		}
	}
	return w, nil
}

// Delete hard-deletes a work order and resets its report to Submitted.
// This is the only mutation permitted on a terminal work order.
func (e Engine) Delete(ctx context.Context, id, actorID, origin string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.DeleteWorkOrder(ctx, tx, id)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	e.record(ctx, actorID, w.ID, ActionDeleted, audit.Value(w.Status), nil, origin)
	if err := e.mirrorStatus(ctx, w.ReportID, domain.StatusSubmitted); err != nil {
		return w, err
	}
	return w, nil
}

func (e Engine) Get(ctx context.Context, id string) (domain.WorkOrder, error) {
	return e.Repo.GetWorkOrder(ctx, id)
}

func (e Engine) List(ctx context.Context) ([]domain.WorkOrder, error) {
	return e.Repo.ListWorkOrders(ctx)
}

// SubmitReport records a new citizen report at status Submitted.
func (e Engine) SubmitReport(ctx context.Context, p domain.Report) (domain.Report, error) {
	if p.Classification == "" {
		return p, errors.New("classification is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = domain.StatusSubmitted
	p.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertReport(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func assigneeValue(name string) *string {
	if name == "" {
		return nil
	}
	return audit.Value(name)
}
