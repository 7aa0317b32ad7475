package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

type groupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Get(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	query := `
		SELECT id, course_id, name, timezone, days_of_week, time_from, time_to,
			reminders_enabled, broadcasts_enabled, notify_guardians,
			created_at, updated_at, deleted_at
		FROM groups
		WHERE id = $1 AND deleted_at IS NULL
	`
	var group model.Group
	err := r.db.GetContext(ctx, &group, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListStudents returns the non-deleted roster of a group.
func (r *groupRepository) ListStudents(ctx context.Context, groupID uuid.UUID) ([]*model.Student, error) {
	query := `
		SELECT st.id, st.name, st.gender, st.phone, st.email, st.language, st.channel,
			st.guardian_name, st.guardian_phone, st.guardian_email, st.guardian_relation,
			st.created_at, st.updated_at, st.deleted_at
		FROM students st
		JOIN group_students gs ON gs.student_id = st.id
		WHERE gs.group_id = $1 AND st.deleted_at IS NULL
		ORDER BY st.name ASC
	`
	var students []*model.Student
	if err := r.db.SelectContext(ctx, &students, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list group students: %w", err)
	}
	return students, nil
}

func (r *groupRepository) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	query := `
		SELECT id, name, gender, phone, email, language, channel,
			guardian_name, guardian_phone, guardian_email, guardian_relation,
			created_at, updated_at, deleted_at
		FROM students
		WHERE id = $1 AND deleted_at IS NULL
	`
	var student model.Student
	err := r.db.GetContext(ctx, &student, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &student, nil
}
