package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/metrics"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

// Pool is the slice of the resource pool the scheduler drives.
type Pool interface {
	ListAvailable(ctx context.Context, q repository.AvailabilityQuery) ([]*model.Resource, error)
	MarkReserved(ctx context.Context, id uuid.UUID, reservation model.Reservation) error
	MarkReleased(ctx context.Context, id uuid.UUID) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Service selects and locks a compatible free resource for a session's
// time window and releases it on completion, cancellation or sweep.
type Service struct {
	pool     Pool
	sessions repository.SessionRepository
	groups   repository.GroupRepository
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(pool Pool, sessions repository.SessionRepository, groups repository.GroupRepository, m *metrics.Metrics, l *logger.Logger) *Service {
	return &Service{
		pool:     pool,
		sessions: sessions,
		groups:   groups,
		metrics:  m,
		logger:   l,
		now:      time.Now,
	}
}

// Reserve picks the least-used compatible resource (name breaks ties,
// encoded in the candidate ordering) and claims it. A lost race against
// a concurrent reservation moves on to the next candidate; exhausting
// all candidates leaves the session unassigned and flagged for manual
// assignment.
func (s *Service) Reserve(ctx context.Context, session *model.Session) (*model.Resource, error) {
	students, err := s.groups.ListStudents(ctx, session.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group size: %w", err)
	}

	q := repository.AvailabilityQuery{
		Day:       strings.ToLower(session.Weekday().String()),
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
		StartsAt:  session.StartsAt,
		EndsAt:    session.EndsAt,
		Capacity:  len(students),
	}

	candidates, err := s.pool.ListAvailable(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate resources: %w", err)
	}

	reservation := model.Reservation{
		SessionID: session.ID,
		GroupID:   session.GroupID,
		StartTime: session.StartsAt,
		EndTime:   session.EndsAt,
	}

	for _, candidate := range candidates {
		err := s.pool.MarkReserved(ctx, candidate.ID, reservation)
		if apperrors.IsCode(err, apperrors.ErrResourceUnavailable) {
			// Lost the race; try the next candidate.
			if s.metrics != nil {
				s.metrics.ReservationAttempts.WithLabelValues("lost_race").Inc()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to reserve resource: %w", err)
		}

		resourceID := candidate.ID
		session.ResourceID = &resourceID
		if err := s.sessions.AssignResource(ctx, session.ID, &resourceID); err != nil {
			return nil, fmt.Errorf("failed to assign resource to session: %w", err)
		}
		if s.metrics != nil {
			s.metrics.ReservationAttempts.WithLabelValues("reserved").Inc()
		}
		return candidate, nil
	}

	if s.metrics != nil {
		s.metrics.ReservationAttempts.WithLabelValues("exhausted").Inc()
	}
	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: session.ID,
		EventType: model.AutomationNeedsManualAssign,
		Result:    "no compatible resource available",
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record manual assignment flag")
	}
	return nil, apperrors.NewNoResourceAvailable()
}

// Release frees a session's resource. It is idempotent: releasing twice
// or releasing a session with no resource is a no-op success.
func (s *Service) Release(ctx context.Context, session *model.Session, reason string) error {
	if session.ResourceID == nil {
		return nil
	}

	if err := s.pool.MarkReleased(ctx, *session.ResourceID); err != nil {
		return fmt.Errorf("failed to release resource: %w", err)
	}

	released := *session.ResourceID
	session.ResourceID = nil
	if err := s.sessions.AssignResource(ctx, session.ID, nil); err != nil {
		return fmt.Errorf("failed to clear session resource: %w", err)
	}

	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: session.ID,
		EventType: model.AutomationResourceReleased,
		Result:    fmt.Sprintf("resource %s released: %s", released, reason),
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record resource release")
	}
	return nil
}

// ReleaseAllExpired force-releases every reservation whose window has
// already elapsed, system-wide. Recovery path for automation failures.
func (s *Service) ReleaseAllExpired(ctx context.Context) (*model.ReleaseSummary, error) {
	released, err := s.pool.SweepExpired(ctx, s.now())
	if err != nil {
		return &model.ReleaseSummary{Failed: 1}, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ReservationsSwept.Add(float64(released))
	}
	return &model.ReleaseSummary{Released: released}, nil
}
