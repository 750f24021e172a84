// Package audit appends immutable entries describing every state-changing
// action in the engine. Entries carry the actor's display name resolved at
// write time; audit completeness wins over identity accuracy, so a failed
// lookup writes "Unknown" instead of blocking.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"civitrack/internal/domain"
	"civitrack/internal/repo"
)

// UnknownActor is recorded when the identity lookup fails or has no match.
const UnknownActor = "Unknown"

// Resolver maps an actor id to a display name.
type Resolver interface {
	ResolveActorName(ctx context.Context, actorID string) (string, error)
}

// StaffResolver resolves actor names from the staff directory.
type StaffResolver struct {
	Repo repo.Repo
}

func (r StaffResolver) ResolveActorName(ctx context.Context, actorID string) (string, error) {
	s, err := r.Repo.GetStaff(ctx, actorID)
	if err != nil {
		return "", err
	}
	return s.Name, nil
}

type Writer struct {
	Repo     repo.Repo
	Resolver Resolver
	Now      func() time.Time
}

// Record resolves the actor name and appends one entry. The returned entry
// carries the storage-assigned id and server-assigned timestamp.
func (w Writer) Record(ctx context.Context, actorID, entityType, entityID, action string, oldValue, newValue *string, origin string) (domain.AuditEntry, error) {
	name := UnknownActor
	if w.Resolver != nil {
		if resolved, err := w.Resolver.ResolveActorName(ctx, actorID); err == nil && resolved != "" {
			name = resolved
		}
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	entry := domain.AuditEntry{
		ActorID:       actorID,
		ActorName:     name,
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        action,
		OldValue:      oldValue,
		NewValue:      newValue,
		OriginAddress: origin,
		RecordedAt:    now().UTC().Format(time.RFC3339Nano),
	}
	return w.Repo.InsertAuditEntry(ctx, entry)
}

// Value serializes a snapshot for the old/new value columns. Nil input
// stays nil so the column records an absent state, not "null" text.
func Value(v any) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
