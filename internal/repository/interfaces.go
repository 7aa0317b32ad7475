package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/halaqat/scheduler-api/internal/model"
)

// AvailabilityQuery describes the window a resource must cover.
type AvailabilityQuery struct {
	Day       string
	StartTime string
	EndTime   string
	StartsAt  time.Time
	EndsAt    time.Time
	Capacity  int
}

type ResourceRepository interface {
	Create(ctx context.Context, resource *model.Resource) error
	Get(ctx context.Context, id uuid.UUID) (*model.Resource, error)
	Update(ctx context.Context, resource *model.Resource) error
	List(ctx context.Context) ([]*model.Resource, error)
	// ListAvailable returns candidates ordered by total_uses then name.
	ListAvailable(ctx context.Context, q AvailabilityQuery) ([]*model.Resource, error)
	// MarkReserved performs the conditional reservation update. The
	// boolean is false when the resource was already reserved for an
	// overlapping interval (the lost-race case).
	MarkReserved(ctx context.Context, id uuid.UUID, reservation model.Reservation) (bool, error)
	// MarkReleased clears the reservation and accrues usage stats.
	// Releasing an unreserved resource is a no-op.
	MarkReleased(ctx context.Context, id uuid.UUID) error
	// SweepExpired releases every reservation whose window has elapsed
	// and returns how many were released.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error)
	// TransitionWithOutbox commits the status change, the automation
	// log entry and the outbox row in one transaction.
	TransitionWithOutbox(ctx context.Context, session *model.Session, event *model.AutomationEvent, outbox *model.OutboxEvent) error
	AssignResource(ctx context.Context, sessionID uuid.UUID, resourceID *uuid.UUID) error
	AppendAutomationEvent(ctx context.Context, event *model.AutomationEvent) error
	ListAutomationEvents(ctx context.Context, sessionID uuid.UUID) ([]*model.AutomationEvent, error)
	// ListDueForReminder returns scheduled sessions starting inside
	// (from, to] on groups with reminders enabled that have no
	// notification record yet for the given event type.
	ListDueForReminder(ctx context.Context, eventType string, from, to time.Time) ([]*model.Session, error)
}

type GroupRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Group, error)
	ListStudents(ctx context.Context, groupID uuid.UUID) ([]*model.Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error)
}

type NotificationRepository interface {
	// CreateIfAbsent inserts a pending record unless one already exists
	// for the (session, event type, recipient, role) key. The boolean
	// reports whether the row was inserted.
	CreateIfAbsent(ctx context.Context, record *model.NotificationRecord) (bool, error)
	// CreateManual always inserts; manual resends never mutate or
	// collide with earlier records.
	CreateManual(ctx context.Context, record *model.NotificationRecord) error
	UpdateOutcome(ctx context.Context, id uuid.UUID, status model.NotificationStatus, sentAt *time.Time, errorDetail *string) error
	ExistsForSession(ctx context.Context, sessionID uuid.UUID, eventType string) (bool, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.NotificationRecord, error)
	ListRemindersByStudent(ctx context.Context, studentID uuid.UUID) ([]model.NotificationRecord, error)
}

type OutboxRepository interface {
	GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
