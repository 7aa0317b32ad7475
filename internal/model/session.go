package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusPostponed SessionStatus = "postponed"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// Session is a single teaching occurrence generated from a group's
// recurrence schedule. ScheduledDate plus StartTime/EndTime carry the
// wall-clock pair; StartsAt/EndsAt are the absolute instants with the
// group timezone applied.
type Session struct {
	Base
	GroupID         uuid.UUID     `db:"group_id" json:"group_id"`
	CourseID        uuid.UUID     `db:"course_id" json:"course_id"`
	ScheduledDate   time.Time     `db:"scheduled_date" json:"scheduled_date"`
	StartTime       string        `db:"start_time" json:"start_time"`
	EndTime         string        `db:"end_time" json:"end_time"`
	StartsAt        time.Time     `db:"starts_at" json:"starts_at"`
	EndsAt          time.Time     `db:"ends_at" json:"ends_at"`
	Status          SessionStatus `db:"status" json:"status"`
	ResourceID      *uuid.UUID    `db:"resource_id" json:"resource_id,omitempty"`
	AttendanceTaken bool          `db:"attendance_taken" json:"attendance_taken"`
	StatusReason    *string       `db:"status_reason" json:"status_reason,omitempty"`
}

// Weekday returns the session's scheduled weekday.
func (s *Session) Weekday() time.Weekday {
	return s.StartsAt.Weekday()
}

// AutomationEvent is one entry of a session's append-only automation log.
type AutomationEvent struct {
	ID          uuid.UUID `db:"id" json:"id"`
	SessionID   uuid.UUID `db:"session_id" json:"session_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	TriggeredAt time.Time `db:"triggered_at" json:"triggered_at"`
	Result      string    `db:"result" json:"result"`
}

// Automation event types.
const (
	AutomationBroadcastEnqueued   = "broadcast_enqueued"
	AutomationReminderSent        = "reminder_sent"
	AutomationResourceReleased    = "resource_released"
	AutomationNeedsManualAssign   = "needs_manual_assignment"
	AutomationBroadcastDispatched = "broadcast_dispatched"
	AutomationBroadcastReplayed   = "broadcast_replayed"
)

// LifecycleEvent records a session status transition for the cascade.
type LifecycleEvent struct {
	SessionID  uuid.UUID     `json:"session_id"`
	FromStatus SessionStatus `json:"from_status"`
	ToStatus   SessionStatus `json:"to_status"`
	Reason     string        `json:"reason,omitempty"`
}

// EventType names the cascade template key for this transition.
func (e LifecycleEvent) EventType() string {
	switch e.ToStatus {
	case SessionStatusCancelled:
		return EventSessionCancelled
	case SessionStatusPostponed:
		return EventSessionPostponed
	case SessionStatusScheduled:
		return EventSessionRescheduled
	default:
		return EventSessionCompleted
	}
}

type CreateSessionRequest struct {
	GroupID       uuid.UUID `json:"group_id" binding:"required"`
	CourseID      uuid.UUID `json:"course_id" binding:"required"`
	ScheduledDate string    `json:"scheduled_date" binding:"required"`
	StartTime     string    `json:"start_time" binding:"required,hhmm"`
	EndTime       string    `json:"end_time" binding:"required,hhmm"`
}

type UpdateSessionRequest struct {
	ScheduledDate *string `json:"scheduled_date"`
	StartTime     *string `json:"start_time" binding:"omitempty,hhmm"`
	EndTime       *string `json:"end_time" binding:"omitempty,hhmm"`
}

type TransitionRequest struct {
	ToStatus SessionStatus `json:"to_status" binding:"required"`
	Reason   string        `json:"reason"`
}

type SessionFilters struct {
	GroupID  uuid.UUID
	CourseID uuid.UUID
	Status   SessionStatus
	From     time.Time
	To       time.Time
}

// GenerateSessionsRequest expands a group's recurrence into sessions.
type GenerateSessionsRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}
