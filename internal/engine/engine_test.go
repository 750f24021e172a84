package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"civitrack/internal/config"
	"civitrack/internal/db"
	"civitrack/internal/domain"
	"civitrack/internal/engine"
	"civitrack/internal/evidence"
	"civitrack/internal/migrate"
	"civitrack/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := evidence.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	eng := engine.New(conn, config.Default(), store)
	eng.Now = func() time.Time { return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, s := range []domain.Staff{
		{ID: "admin-1", Name: "Pat Lee", Position: "Admin"},
		{ID: "crew-1", Name: "Sam Ortiz", Position: "Inspector"},
		{ID: "crew-2", Name: "Ada Novak", Position: "Inspector"},
	} {
		if err := eng.Repo.InsertStaff(ctx, s); err != nil {
			t.Fatalf("seed staff %s: %v", s.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) submitReport(t *testing.T) domain.Report {
	t.Helper()
	p, err := env.Engine.SubmitReport(env.Ctx, domain.Report{
		Classification: "noise",
		Location:       "5th and Main",
	})
	if err != nil {
		t.Fatalf("submit report: %v", err)
	}
	return p
}

func (env testEnv) assign(t *testing.T, reportID, assignee string) domain.WorkOrder {
	t.Helper()
	w, err := env.Engine.CreateOrAssign(env.Ctx, engine.AssignOptions{
		ReportID:   reportID,
		AssigneeID: assignee,
		ActorID:    "admin-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return w
}

func (env testEnv) reportStatus(t *testing.T, id string) string {
	t.Helper()
	p, err := env.Engine.Repo.GetReport(env.Ctx, id)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	return p.Status
}

func TestAssignCreatesWorkOrder(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)

	w := env.assign(t, report.ID, "crew-1")
	if w.Status != domain.StatusSubmitted {
		t.Fatalf("new work order should be Submitted, got %s", w.Status)
	}
	if w.SequenceNumber != "PA25-01-00001" {
		t.Fatalf("unexpected sequence number %s", w.SequenceNumber)
	}
	if w.AssignedTo == nil || *w.AssignedTo != "crew-1" {
		t.Fatalf("assignee not recorded: %+v", w.AssignedTo)
	}

	second := env.submitReport(t)
	w2 := env.assign(t, second.ID, "crew-1")
	if w2.SequenceNumber != "PA25-01-00002" {
		t.Fatalf("sequence numbers must be contiguous, got %s", w2.SequenceNumber)
	}
	if w2.SequenceNumber == w.SequenceNumber {
		t.Fatalf("sequence numbers must be unique")
	}
}

func TestReassignPreservesStatus(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")

	w, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusAccepted, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("to Accepted: %v", err)
	}

	w2 := env.assign(t, report.ID, "crew-2")
	if w2.ID != w.ID {
		t.Fatalf("reassign must reuse the existing work order")
	}
	if w2.Status != domain.StatusAccepted {
		t.Fatalf("reassign must preserve status, got %s", w2.Status)
	}
	if w2.AssignedTo == nil || *w2.AssignedTo != "crew-2" {
		t.Fatalf("assignee not changed: %+v", w2.AssignedTo)
	}
}

func TestStatusChangeRequiresAssignee(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "")

	_, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusAccepted, ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrUnassigned) {
		t.Fatalf("expected ErrUnassigned, got %v", err)
	}

	// Setting the assignee in the same call satisfies the precondition.
	assignee := "crew-1"
	w, err = env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusAccepted,
		Assignee: &assignee, AssigneeProvided: true,
		ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("to Accepted with assignee: %v", err)
	}
	if w.Status != domain.StatusAccepted {
		t.Fatalf("expected Accepted, got %s", w.Status)
	}
}

func TestTerminalRequiresEvidence(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")

	_, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusCompleted, ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrMissingEvidence) {
		t.Fatalf("expected ErrMissingEvidence, got %v", err)
	}

	w, err = env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusCompleted,
		Evidence: &engine.Upload{Content: strings.NewReader("inspection notes"), OriginalName: "report.pdf"},
		ActorID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("complete with evidence: %v", err)
	}
	if w.EvidenceHandle == nil || w.EvidenceOriginalName == nil || *w.EvidenceOriginalName != "report.pdf" {
		t.Fatalf("evidence metadata missing: %+v", w)
	}
	if w.CompletionAt == nil {
		t.Fatalf("completion timestamp missing")
	}
	if got := env.reportStatus(t, report.ID); got != domain.StatusCompleted {
		t.Fatalf("report should mirror Completed, got %s", got)
	}
}

func TestTerminalLock(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")
	w, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusRejected,
		Evidence: &engine.Upload{Content: strings.NewReader("no issue found"), OriginalName: "notes.txt"},
		ActorID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err = env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusInProgress, ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrAlreadyTerminal) {
		t.Fatalf("status change on terminal order: expected ErrAlreadyTerminal, got %v", err)
	}
	_, err = env.Engine.CreateOrAssign(env.Ctx, engine.AssignOptions{
		ReportID: report.ID, AssigneeID: "crew-2", ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrAlreadyTerminal) {
		t.Fatalf("reassign on terminal order: expected ErrAlreadyTerminal, got %v", err)
	}

	// Deletion is the one mutation a terminal order still allows.
	if _, err := env.Engine.Delete(env.Ctx, w.ID, "admin-1", ""); err != nil {
		t.Fatalf("delete terminal order: %v", err)
	}
	if got := env.reportStatus(t, report.ID); got != domain.StatusSubmitted {
		t.Fatalf("deleted order must reset report to Submitted, got %s", got)
	}
	if _, err := env.Engine.Get(env.Ctx, w.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStatusSubmittedDeletes(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")
	w, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusAccepted, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("to Accepted: %v", err)
	}

	if _, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusSubmitted, ActorID: "admin-1",
	}); err != nil {
		t.Fatalf("back to Submitted: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, w.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Submitted target must delete the work order, got %v", err)
	}
	if got := env.reportStatus(t, report.ID); got != domain.StatusSubmitted {
		t.Fatalf("report must return to Submitted, got %s", got)
	}

	// A fresh assignment burns a new sequence number.
	w2 := env.assign(t, report.ID, "crew-1")
	if w2.SequenceNumber != "PA25-01-00002" {
		t.Fatalf("expected a fresh number after deletion, got %s", w2.SequenceNumber)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")
	w, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusAccepted, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("to Accepted: %v", err)
	}
	assignee := "crew-2"
	w, err = env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusInProgress,
		Assignee: &assignee, AssigneeProvided: true,
		ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("to In-progress with reassign: %v", err)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{EntityID: w.ID})
	if err != nil {
		t.Fatalf("list audit entries: %v", err)
	}
	// Created, status to Accepted, assignee change, status to In-progress.
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
	}
	for _, entry := range entries {
		if entry.ActorName != "Pat Lee" {
			t.Fatalf("actor name should resolve to Pat Lee, got %s", entry.ActorName)
		}
		if entry.EntityType != engine.EntityWorkOrder {
			t.Fatalf("unexpected entity type %s", entry.EntityType)
		}
	}
	// Newest first.
	if entries[0].Action != engine.ActionStatusChanged {
		t.Fatalf("expected newest entry to be the status change, got %s", entries[0].Action)
	}
	if entries[1].Action != engine.ActionAssigneeChanged {
		t.Fatalf("expected assignee change entry, got %s", entries[1].Action)
	}
	if entries[1].OldValue == nil || *entries[1].OldValue != `"Sam Ortiz"` {
		t.Fatalf("assignee snapshots must use display names, got %v", entries[1].OldValue)
	}
	if entries[1].NewValue == nil || *entries[1].NewValue != `"Ada Novak"` {
		t.Fatalf("assignee snapshots must use display names, got %v", entries[1].NewValue)
	}
	if entries[len(entries)-1].Action != engine.ActionCreated {
		t.Fatalf("oldest entry should be creation, got %s", entries[len(entries)-1].Action)
	}
}

func TestAuditRecordsUnknownActor(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w, err := env.Engine.CreateOrAssign(env.Ctx, engine.AssignOptions{
		ReportID: report.ID, AssigneeID: "crew-1", ActorID: "ghost",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{EntityID: w.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ActorName != "Unknown" {
		t.Fatalf("unresolvable actor should record Unknown, got %s", entries[0].ActorName)
	}
	if entries[0].ActorID != "ghost" {
		t.Fatalf("raw actor id must be preserved, got %s", entries[0].ActorID)
	}
}

func TestEvidenceUploadAuditsDocumentName(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")
	w, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: domain.StatusCompleted,
		Evidence: &engine.Upload{Content: strings.NewReader("done"), OriginalName: "final.pdf"},
		ActorID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{EntityID: w.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries[0].Action != `Uploaded inspection report "final.pdf"` {
		t.Fatalf("unexpected action %q", entries[0].Action)
	}
}

func TestAssignUnknownReport(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrAssign(env.Ctx, engine.AssignOptions{
		ReportID: "missing", AssigneeID: "crew-1", ActorID: "admin-1",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRejectsInvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	report := env.submitReport(t)
	w := env.assign(t, report.ID, "crew-1")
	if _, err := env.Engine.Update(env.Ctx, engine.UpdateOptions{
		ID: w.ID, Status: "Done", ActorID: "admin-1",
	}); err == nil {
		t.Fatalf("expected invalid status error")
	}
}
