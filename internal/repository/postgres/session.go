package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

const sessionColumns = `
	id, group_id, course_id, scheduled_date, start_time, end_time, starts_at, ends_at,
	status, resource_id, attendance_taken, status_reason, created_at, updated_at, deleted_at`

type sessionRepository struct {
	BaseRepository
}

func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &sessionRepository{NewBaseRepository(db)}
}

func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (
			id, group_id, course_id, scheduled_date, start_time, end_time,
			starts_at, ends_at, status, resource_id, attendance_taken, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $12)
	`
	session.ID = uuid.New()
	session.CreatedAt = time.Now()
	session.UpdatedAt = time.Now()
	if session.Status == "" {
		session.Status = model.SessionStatusScheduled
	}

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.GroupID,
		session.CourseID,
		session.ScheduledDate,
		session.StartTime,
		session.EndTime,
		session.StartsAt,
		session.EndsAt,
		session.Status,
		session.ResourceID,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND deleted_at IS NULL`

	var session model.Session
	err := r.db.GetContext(ctx, &session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) Update(ctx context.Context, session *model.Session) error {
	query := `
		UPDATE sessions
		SET scheduled_date = $1, start_time = $2, end_time = $3, starts_at = $4,
			ends_at = $5, status = $6, resource_id = $7, attendance_taken = $8,
			status_reason = $9, updated_at = $10
		WHERE id = $11 AND deleted_at IS NULL
	`
	session.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		session.ScheduledDate,
		session.StartTime,
		session.EndTime,
		session.StartsAt,
		session.EndsAt,
		session.Status,
		session.ResourceID,
		session.AttendanceTaken,
		session.StatusReason,
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks the session deleted and forces its status to cancelled.
func (r *sessionRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sessions
		SET deleted_at = NOW(), status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *sessionRepository) List(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE deleted_at IS NULL`
	args := []interface{}{}
	argCount := 1

	if filters != nil {
		if filters.GroupID != uuid.Nil {
			query += fmt.Sprintf(" AND group_id = $%d", argCount)
			args = append(args, filters.GroupID)
			argCount++
		}
		if filters.CourseID != uuid.Nil {
			query += fmt.Sprintf(" AND course_id = $%d", argCount)
			args = append(args, filters.CourseID)
			argCount++
		}
		if filters.Status != "" {
			query += fmt.Sprintf(" AND status = $%d", argCount)
			args = append(args, filters.Status)
			argCount++
		}
		if !filters.From.IsZero() {
			query += fmt.Sprintf(" AND starts_at >= $%d", argCount)
			args = append(args, filters.From)
			argCount++
		}
		if !filters.To.IsZero() {
			query += fmt.Sprintf(" AND starts_at <= $%d", argCount)
			args = append(args, filters.To)
			argCount++
		}
	}

	query += " ORDER BY starts_at ASC"

	var sessions []*model.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// TransitionWithOutbox commits the status change, the automation log entry
// and the outbox row together, so a crash after commit but before dispatch
// leaves a pending outbox row the recovery worker can replay.
func (r *sessionRepository) TransitionWithOutbox(ctx context.Context, session *model.Session, event *model.AutomationEvent, outbox *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		session.UpdatedAt = time.Now()
		result, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = $1, resource_id = $2, status_reason = $3, updated_at = $4
			WHERE id = $5 AND deleted_at IS NULL
		`, session.Status, session.ResourceID, session.StatusReason, session.UpdatedAt, session.ID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return sql.ErrNoRows
		}

		if event != nil {
			if err := insertAutomationEvent(ctx, tx, event); err != nil {
				return err
			}
		}

		if outbox != nil {
			outbox.ID = uuid.New()
			outbox.Status = model.OutboxStatusPending
			outbox.CreatedAt = time.Now()
			outbox.UpdatedAt = outbox.CreatedAt
			_, err := tx.ExecContext(ctx, `
				INSERT INTO outbox_events (
					id, event_type, session_id, payload, status, retry_count, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
			`, outbox.ID, outbox.EventType, outbox.SessionID, outbox.Payload, outbox.Status, outbox.CreatedAt, outbox.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to create outbox event: %w", err)
			}
		}

		return nil
	})
}

func (r *sessionRepository) AssignResource(ctx context.Context, sessionID uuid.UUID, resourceID *uuid.UUID) error {
	query := `UPDATE sessions SET resource_id = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, resourceID, sessionID); err != nil {
		return fmt.Errorf("failed to assign resource: %w", err)
	}
	return nil
}

func insertAutomationEvent(ctx context.Context, execer sqlx.ExecerContext, event *model.AutomationEvent) error {
	event.ID = uuid.New()
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now()
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO session_automation_events (id, session_id, event_type, triggered_at, result)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.SessionID, event.EventType, event.TriggeredAt, event.Result)
	if err != nil {
		return fmt.Errorf("failed to append automation event: %w", err)
	}
	return nil
}

func (r *sessionRepository) AppendAutomationEvent(ctx context.Context, event *model.AutomationEvent) error {
	return insertAutomationEvent(ctx, r.db, event)
}

func (r *sessionRepository) ListAutomationEvents(ctx context.Context, sessionID uuid.UUID) ([]*model.AutomationEvent, error) {
	query := `
		SELECT id, session_id, event_type, triggered_at, result
		FROM session_automation_events
		WHERE session_id = $1
		ORDER BY triggered_at ASC
	`
	var events []*model.AutomationEvent
	if err := r.db.SelectContext(ctx, &events, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list automation events: %w", err)
	}
	return events, nil
}

// ListDueForReminder selects sessions entering a reminder window. The NOT
// EXISTS clause is what makes a second scan pass idempotent: a session
// with any record for the window type is never picked up again.
func (r *sessionRepository) ListDueForReminder(ctx context.Context, eventType string, from, to time.Time) ([]*model.Session, error) {
	query := `
		SELECT s.id, s.group_id, s.course_id, s.scheduled_date, s.start_time, s.end_time,
			s.starts_at, s.ends_at, s.status, s.resource_id, s.attendance_taken,
			s.status_reason, s.created_at, s.updated_at, s.deleted_at
		FROM sessions s
		JOIN groups g ON g.id = s.group_id AND g.deleted_at IS NULL
		WHERE s.deleted_at IS NULL
		AND s.status = 'scheduled'
		AND s.starts_at > $1
		AND s.starts_at <= $2
		AND g.reminders_enabled = true
		AND NOT EXISTS (
			SELECT 1 FROM notification_records nr
			WHERE nr.session_id = s.id AND nr.event_type = $3
		)
		ORDER BY s.starts_at ASC
	`
	var sessions []*model.Session
	if err := r.db.SelectContext(ctx, &sessions, query, from, to, eventType); err != nil {
		return nil, fmt.Errorf("failed to list sessions due for reminder: %w", err)
	}
	return sessions, nil
}
