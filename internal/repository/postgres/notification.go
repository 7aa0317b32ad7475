package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

const notificationColumns = `
	id, session_id, group_id, recipient_id, recipient_role, event_type, channel,
	language, message, status, sent_at, error_detail, created_at, updated_at, deleted_at`

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) repository.NotificationRepository {
	return &notificationRepository{db: db}
}

// CreateIfAbsent claims the idempotence key (session, event type,
// recipient, role) with an insert-if-absent. A second cascade pass for
// the same key inserts nothing and the caller skips the recipient.
func (r *notificationRepository) CreateIfAbsent(ctx context.Context, record *model.NotificationRecord) (bool, error) {
	query := `
		INSERT INTO notification_records (
			id, session_id, group_id, recipient_id, recipient_role, event_type,
			channel, language, message, status, manual, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $12)
		ON CONFLICT (session_id, event_type, recipient_id, recipient_role) WHERE NOT manual
		DO NOTHING
	`
	record.ID = uuid.New()
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	if record.Status == "" {
		record.Status = model.NotificationStatusPending
	}

	result, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.GroupID,
		record.RecipientID,
		record.RecipientRole,
		record.EventType,
		record.Channel,
		record.Language,
		record.Message,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create notification record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CreateManual inserts unconditionally; manual resends record fresh rows
// rather than mutating earlier ones.
func (r *notificationRepository) CreateManual(ctx context.Context, record *model.NotificationRecord) error {
	query := `
		INSERT INTO notification_records (
			id, session_id, group_id, recipient_id, recipient_role, event_type,
			channel, language, message, status, manual, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $12)
	`
	record.ID = uuid.New()
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	if record.Status == "" {
		record.Status = model.NotificationStatusPending
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.GroupID,
		record.RecipientID,
		record.RecipientRole,
		record.EventType,
		record.Channel,
		record.Language,
		record.Message,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create manual notification record: %w", err)
	}
	return nil
}

func (r *notificationRepository) UpdateOutcome(ctx context.Context, id uuid.UUID, status model.NotificationStatus, sentAt *time.Time, errorDetail *string) error {
	query := `
		UPDATE notification_records
		SET status = $1, sent_at = $2, error_detail = $3, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, status, sentAt, errorDetail, id); err != nil {
		return fmt.Errorf("failed to update notification outcome: %w", err)
	}
	return nil
}

func (r *notificationRepository) ExistsForSession(ctx context.Context, sessionID uuid.UUID, eventType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_records
			WHERE session_id = $1 AND event_type = $2
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, sessionID, eventType); err != nil {
		return false, fmt.Errorf("failed to check notification existence: %w", err)
	}
	return exists, nil
}

func (r *notificationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_records WHERE session_id = $1 ORDER BY created_at ASC`

	var records []model.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}
	return records, nil
}

// ListRemindersByStudent returns every reminder record addressed to the
// student or their guardian, newest session first.
func (r *notificationRepository) ListRemindersByStudent(ctx context.Context, studentID uuid.UUID) ([]model.NotificationRecord, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_records
		WHERE recipient_id = $1
		AND event_type LIKE 'reminder_%'
		ORDER BY session_id, created_at DESC
	`
	var records []model.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("failed to list student reminders: %w", err)
	}
	return records, nil
}
