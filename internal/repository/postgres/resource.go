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

const resourceColumns = `
	id, name, platform, meeting_link, capacity, allowed_days, allowed_time_slots,
	status, reserved_session_id, reserved_group_id, reserved_from, reserved_until,
	total_uses, total_hours, created_at, updated_at, deleted_at`

type resourceRepository struct {
	db *sqlx.DB
}

func NewResourceRepository(db *sqlx.DB) repository.ResourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) Create(ctx context.Context, resource *model.Resource) error {
	query := `
		INSERT INTO resources (
			id, name, platform, meeting_link, capacity, allowed_days,
			allowed_time_slots, status, total_uses, total_hours, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9, $10)
	`
	resource.ID = uuid.New()
	resource.CreatedAt = time.Now()
	resource.UpdatedAt = time.Now()
	if resource.Status == "" {
		resource.Status = model.ResourceStatusAvailable
	}

	_, err := r.db.ExecContext(ctx, query,
		resource.ID,
		resource.Name,
		resource.Platform,
		resource.MeetingLink,
		resource.Capacity,
		resource.AllowedDays,
		resource.AllowedTimeSlots,
		resource.Status,
		resource.CreatedAt,
		resource.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func (r *resourceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1 AND deleted_at IS NULL`

	var resource model.Resource
	err := r.db.GetContext(ctx, &resource, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &resource, nil
}

func (r *resourceRepository) Update(ctx context.Context, resource *model.Resource) error {
	query := `
		UPDATE resources
		SET name = $1, meeting_link = $2, capacity = $3, allowed_days = $4,
			allowed_time_slots = $5, status = $6, updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL
	`
	resource.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		resource.Name,
		resource.MeetingLink,
		resource.Capacity,
		resource.AllowedDays,
		resource.AllowedTimeSlots,
		resource.Status,
		resource.UpdatedAt,
		resource.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
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

func (r *resourceRepository) List(ctx context.Context) ([]*model.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE deleted_at IS NULL ORDER BY name ASC`

	var resources []*model.Resource
	if err := r.db.SelectContext(ctx, &resources, query); err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return resources, nil
}

// ListAvailable filters on day, capacity, status and reservation overlap in
// SQL; time-slot coverage lives in JSONB and is filtered by the caller.
// Ordering encodes the scheduler tie-break: least used first, then name.
func (r *resourceRepository) ListAvailable(ctx context.Context, q repository.AvailabilityQuery) ([]*model.Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE deleted_at IS NULL
		AND status != 'maintenance'
		AND capacity >= $1
		AND $2 = ANY(allowed_days)
		AND (
			reserved_session_id IS NULL
			OR reserved_until <= NOW()
			OR NOT (reserved_from < $4 AND reserved_until > $3)
		)
		ORDER BY total_uses ASC, name ASC
	`
	var resources []*model.Resource
	err := r.db.SelectContext(ctx, &resources, query, q.Capacity, q.Day, q.StartsAt, q.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("failed to list available resources: %w", err)
	}

	filtered := resources[:0]
	for _, res := range resources {
		if res.AllowsWindow(q.StartTime, q.EndTime) {
			filtered = append(filtered, res)
		}
	}
	return filtered, nil
}

// MarkReserved is the single correctness-critical lock in the system: a
// conditional update that only claims the resource when it has no live
// reservation. Two racing reservations cannot both match the predicate.
func (r *resourceRepository) MarkReserved(ctx context.Context, id uuid.UUID, reservation model.Reservation) (bool, error) {
	query := `
		UPDATE resources
		SET status = 'reserved',
			reserved_session_id = $2,
			reserved_group_id = $3,
			reserved_from = $4,
			reserved_until = $5,
			updated_at = NOW()
		WHERE id = $1
		AND deleted_at IS NULL
		AND status != 'maintenance'
		AND (reserved_session_id IS NULL OR reserved_until <= NOW() OR reserved_session_id = $2)
	`
	result, err := r.db.ExecContext(ctx, query,
		id,
		reservation.SessionID,
		reservation.GroupID,
		reservation.StartTime,
		reservation.EndTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark resource reserved: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkReleased clears the reservation and accrues usage stats for the
// elapsed reserved duration. Releasing an unreserved resource matches
// zero rows, which is the idempotent no-op the scheduler relies on.
func (r *resourceRepository) MarkReleased(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE resources
		SET status = 'available',
			total_uses = total_uses + 1,
			total_hours = total_hours + GREATEST(
				EXTRACT(EPOCH FROM (LEAST(NOW(), reserved_until) - reserved_from)) / 3600, 0),
			reserved_session_id = NULL,
			reserved_group_id = NULL,
			reserved_from = NULL,
			reserved_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'reserved' AND reserved_session_id IS NOT NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark resource released: %w", err)
	}
	return nil
}

func (r *resourceRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE resources
		SET status = 'available',
			total_uses = total_uses + 1,
			total_hours = total_hours + GREATEST(
				EXTRACT(EPOCH FROM (reserved_until - reserved_from)) / 3600, 0),
			reserved_session_id = NULL,
			reserved_group_id = NULL,
			reserved_from = NULL,
			reserved_until = NULL,
			updated_at = NOW()
		WHERE status = 'reserved' AND reserved_until < $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
