package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Cascade event types. Reminder event types double as window names.
const (
	EventSessionCancelled   = "session_cancelled"
	EventSessionPostponed   = "session_postponed"
	EventSessionRescheduled = "session_rescheduled"
	EventSessionCompleted   = "session_completed"
	EventReminder24Hours    = "reminder_24hours"
	EventReminder1Hour      = "reminder_1hour"
)

// ReminderType is the window identifier accepted by the manual trigger.
type ReminderType string

const (
	Reminder24Hours ReminderType = "24hours"
	Reminder1Hour   ReminderType = "1hour"
)

// EventType maps a reminder window to its cascade event type.
func (r ReminderType) EventType() string {
	if r == Reminder1Hour {
		return EventReminder1Hour
	}
	return EventReminder24Hours
}

// Valid reports whether the reminder type is a known window.
func (r ReminderType) Valid() bool {
	return r == Reminder24Hours || r == Reminder1Hour
}

type RecipientRole string

const (
	RoleStudent  RecipientRole = "student"
	RoleGuardian RecipientRole = "guardian"
)

// Recipient is one resolved notification target. RecipientID plus Role
// plus session and event type form the idempotence key.
type Recipient struct {
	RecipientID uuid.UUID
	Role        RecipientRole
	Name        string
	Address     string
	Channel     string
	Language    string
	StudentName string
	Gender      string
	Relation    string
}

// NotificationRecord is the durable delivery ledger entry: one row per
// (session, event type, recipient, role).
type NotificationRecord struct {
	Base
	SessionID     uuid.UUID          `db:"session_id" json:"session_id"`
	GroupID       uuid.UUID          `db:"group_id" json:"group_id"`
	RecipientID   uuid.UUID          `db:"recipient_id" json:"recipient_id"`
	RecipientRole RecipientRole      `db:"recipient_role" json:"recipient_role"`
	EventType     string             `db:"event_type" json:"event_type"`
	Channel       string             `db:"channel" json:"channel"`
	Language      string             `db:"language" json:"language"`
	Message       string             `db:"message" json:"message"`
	Status        NotificationStatus `db:"status" json:"status"`
	SentAt        *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	ErrorDetail   *string            `db:"error_detail" json:"error_detail,omitempty"`
}

// CascadeSummary aggregates per-recipient outcomes of one cascade pass.
type CascadeSummary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SessionReminderAudit groups a student's reminder records per session.
type SessionReminderAudit struct {
	SessionID        uuid.UUID            `json:"session_id"`
	Sent             int                  `json:"sent"`
	Failed           int                  `json:"failed"`
	LastReminderDate *time.Time           `json:"last_reminder_date,omitempty"`
	Records          []NotificationRecord `json:"records"`
}

// NotifyRequest is the operator preview/send request for one recipient.
type NotifyRequest struct {
	EventType   string    `json:"event_type" binding:"required"`
	RecipientID uuid.UUID `json:"recipient_id" binding:"required"`
	Role        string    `json:"role" binding:"omitempty,oneof=student guardian"`
	Send        bool      `json:"send"`
}

// SendReminderRequest is the manual reminder trigger body.
type SendReminderRequest struct {
	ReminderType ReminderType `json:"reminder_type" binding:"required"`
}
