package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/messaging"
	"github.com/halaqat/scheduler-api/pkg/metrics"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

// EventsChannel is the broker channel lifecycle events are published on
// for external consumers, after local dispatch.
const EventsChannel = "automation.events"

// Scheduler is the reservation surface the lifecycle drives.
type Scheduler interface {
	Reserve(ctx context.Context, session *model.Session) (*model.Resource, error)
	Release(ctx context.Context, session *model.Session, reason string) error
}

// Cascade fans a lifecycle event out to the session's group.
type Cascade interface {
	Broadcast(ctx context.Context, event model.LifecycleEvent) (*model.CascadeSummary, error)
}

// TransitionResult is what a transition request returns: the updated
// session plus the cascade outcome when one was dispatched.
type TransitionResult struct {
	Session *model.Session        `json:"session"`
	Cascade *model.CascadeSummary `json:"cascade,omitempty"`
}

// Service owns the session state machine. Transitions release resources
// before the status commit and enqueue the notification cascade through
// the outbox so side effects survive a crash between commit and dispatch.
type Service struct {
	sessions  repository.SessionRepository
	groups    repository.GroupRepository
	outbox    repository.OutboxRepository
	scheduler Scheduler
	cascade   Cascade
	broker    messaging.Broker
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(
	sessions repository.SessionRepository,
	groups repository.GroupRepository,
	outbox repository.OutboxRepository,
	scheduler Scheduler,
	cascade Cascade,
	broker messaging.Broker,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		groups:    groups,
		outbox:    outbox,
		scheduler: scheduler,
		cascade:   cascade,
		broker:    broker,
		metrics:   m,
		logger:    l,
	}
}

// allowedTransitions is the full lifecycle graph. Completed and
// cancelled are terminal.
var allowedTransitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionStatusScheduled: {
		model.SessionStatusCompleted,
		model.SessionStatusCancelled,
		model.SessionStatusPostponed,
	},
	model.SessionStatusPostponed: {
		model.SessionStatusScheduled,
	},
}

func transitionAllowed(from, to model.SessionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a session to a new status. The ordering is fixed:
// release the resource first (idempotent, safe to repeat if the commit
// fails), then commit status + automation log + outbox row in one
// transaction, then dispatch the cascade and mark the outbox row
// processed. A crash after commit leaves a pending outbox row the
// recovery worker replays.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, req *model.TransitionRequest) (*TransitionResult, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := session.Status
	to := req.ToStatus
	if from == to || from.Terminal() || !transitionAllowed(from, to) {
		return nil, apperrors.NewInvalidTransition(string(from), string(to))
	}

	switch to {
	case model.SessionStatusCompleted, model.SessionStatusCancelled, model.SessionStatusPostponed:
		if err := s.scheduler.Release(ctx, session, "session "+string(to)); err != nil {
			return nil, err
		}
	case model.SessionStatusScheduled:
		// postponed -> scheduled re-enters the pool. No free resource is
		// not fatal: the session is rescheduled unassigned and flagged
		// for manual assignment by the scheduler.
		if _, err := s.scheduler.Reserve(ctx, session); err != nil && !apperrors.IsCode(err, apperrors.ErrNoResourceAvailable) {
			return nil, err
		}
	}

	event := model.LifecycleEvent{
		SessionID:  session.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     req.Reason,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lifecycle event: %w", err)
	}

	session.Status = to
	if req.Reason != "" {
		reason := req.Reason
		session.StatusReason = &reason
	}

	outboxRow := &model.OutboxEvent{
		EventType: event.EventType(),
		SessionID: session.ID,
		Payload:   payload,
	}
	automation := &model.AutomationEvent{
		SessionID: session.ID,
		EventType: model.AutomationBroadcastEnqueued,
		Result:    fmt.Sprintf("%s -> %s", from, to),
	}

	if err := s.sessions.TransitionWithOutbox(ctx, session, automation, outboxRow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("session")
		}
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	result := &TransitionResult{Session: session}
	result.Cascade = s.dispatch(ctx, event, outboxRow)

	s.publish(ctx, event)
	return result, nil
}

// dispatch runs the cascade synchronously so the caller sees the
// outcome. A dispatch failure is not a transition failure: the outbox
// row stays pending and the worker retries.
func (s *Service) dispatch(ctx context.Context, event model.LifecycleEvent, outboxRow *model.OutboxEvent) *model.CascadeSummary {
	summary, err := s.cascade.Broadcast(ctx, event)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "cascade dispatch failed, leaving outbox row pending",
				"session_id", event.SessionID.String())
		}
		if s.metrics != nil {
			s.metrics.OutboxEventsFailed.Inc()
		}
		return nil
	}

	if err := s.outbox.UpdateStatus(ctx, outboxRow.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		// Worse case the worker replays; the cascade is idempotent.
		if s.logger != nil {
			s.logger.Error(err, "failed to mark outbox event processed")
		}
	} else if s.metrics != nil {
		s.metrics.OutboxEventsProcessed.Inc()
	}

	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: event.SessionID,
		EventType: model.AutomationBroadcastDispatched,
		Result: fmt.Sprintf("%s attempted=%d sent=%d failed=%d",
			event.EventType(), summary.Attempted, summary.Sent, summary.Failed),
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record broadcast dispatch")
	}
	return summary
}

func (s *Service) publish(ctx context.Context, event model.LifecycleEvent) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, EventsChannel, event); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to publish lifecycle event")
	}
}

// Create schedules a single session and tries to reserve a resource for
// it. Reservation exhaustion is not fatal; the session is created
// unassigned.
func (s *Service) Create(ctx context.Context, req *model.CreateSessionRequest) (*model.Session, error) {
	group, err := s.getGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	session, err := buildSession(group, req.CourseID, req.ScheduledDate, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if _, err := s.scheduler.Reserve(ctx, session); err != nil && !apperrors.IsCode(err, apperrors.ErrNoResourceAvailable) {
		return nil, err
	}
	return session, nil
}

// UpdateSchedule moves a scheduled session to a new date or time and
// re-runs reservation for the new window.
func (s *Service) UpdateSchedule(ctx context.Context, id uuid.UUID, req *model.UpdateSessionRequest) (*model.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, apperrors.NewValidation("cannot reschedule a " + string(session.Status) + " session")
	}

	group, err := s.getGroup(ctx, session.GroupID)
	if err != nil {
		return nil, err
	}

	date := session.ScheduledDate.Format("2006-01-02")
	if req.ScheduledDate != nil {
		date = *req.ScheduledDate
	}
	startTime := session.StartTime
	if req.StartTime != nil {
		startTime = *req.StartTime
	}
	endTime := session.EndTime
	if req.EndTime != nil {
		endTime = *req.EndTime
	}

	if err := applySchedule(session, group, date, startTime, endTime); err != nil {
		return nil, err
	}

	// The old reservation no longer matches the window.
	if err := s.scheduler.Release(ctx, session, "session rescheduled"); err != nil {
		return nil, err
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("session")
		}
		return nil, err
	}

	if _, err := s.scheduler.Reserve(ctx, session); err != nil && !apperrors.IsCode(err, apperrors.ErrNoResourceAvailable) {
		return nil, err
	}
	return session, nil
}

// SoftDelete cancels and hides the session, releasing its resource.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.scheduler.Release(ctx, session, "session deleted"); err != nil {
		return err
	}

	if err := s.sessions.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFound("session")
		}
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("session")
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) List(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error) {
	return s.sessions.List(ctx, filters)
}

func (s *Service) GetAutomationEvents(ctx context.Context, id uuid.UUID) ([]*model.AutomationEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.sessions.ListAutomationEvents(ctx, id)
}

// GenerateFromGroup expands the group's recurrence schedule into
// sessions between two dates inclusive, reserving a resource for each.
// Dates land on the group's configured weekdays at its configured time
// window, interpreted in the group timezone.
func (s *Service) GenerateFromGroup(ctx context.Context, groupID uuid.UUID, req *model.GenerateSessionsRequest) ([]*model.Session, error) {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	loc, err := groupLocation(group)
	if err != nil {
		return nil, err
	}

	from, err := time.ParseInLocation("2006-01-02", req.From, loc)
	if err != nil {
		return nil, apperrors.NewValidation("invalid from date: " + req.From)
	}
	to, err := time.ParseInLocation("2006-01-02", req.To, loc)
	if err != nil {
		return nil, apperrors.NewValidation("invalid to date: " + req.To)
	}
	if to.Before(from) {
		return nil, apperrors.NewValidation("to date precedes from date")
	}

	days := map[string]bool{}
	for _, day := range group.DaysOfWeek {
		days[day] = true
	}

	var sessions []*model.Session
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !days[weekdayName(day.Weekday())] {
			continue
		}

		session, err := buildSession(group, group.CourseID, day.Format("2006-01-02"), group.TimeFrom, group.TimeTo)
		if err != nil {
			return nil, err
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			return nil, err
		}
		if _, err := s.scheduler.Reserve(ctx, session); err != nil && !apperrors.IsCode(err, apperrors.ErrNoResourceAvailable) {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Service) getGroup(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	group, err := s.groups.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("group")
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

func buildSession(group *model.Group, courseID uuid.UUID, date, startTime, endTime string) (*model.Session, error) {
	session := &model.Session{
		GroupID:  group.ID,
		CourseID: courseID,
		Status:   model.SessionStatusScheduled,
	}
	if err := applySchedule(session, group, date, startTime, endTime); err != nil {
		return nil, err
	}
	return session, nil
}

// applySchedule sets both the wall-clock pair and the absolute instants,
// resolving the wall clock in the group's timezone.
func applySchedule(session *model.Session, group *model.Group, date, startTime, endTime string) error {
	loc, err := groupLocation(group)
	if err != nil {
		return err
	}

	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return apperrors.NewValidation("invalid date: " + date)
	}
	startsAt, err := combine(day, startTime, loc)
	if err != nil {
		return apperrors.NewValidation("invalid start time: " + startTime)
	}
	endsAt, err := combine(day, endTime, loc)
	if err != nil {
		return apperrors.NewValidation("invalid end time: " + endTime)
	}
	if !endsAt.After(startsAt) {
		return apperrors.NewValidation("end time must follow start time")
	}

	session.ScheduledDate = day
	session.StartTime = startTime
	session.EndTime = endTime
	session.StartsAt = startsAt
	session.EndsAt = endsAt
	return nil
}

func combine(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

func groupLocation(group *model.Group) (*time.Location, error) {
	if group.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(group.Timezone)
	if err != nil {
		return nil, apperrors.NewValidation("invalid group timezone: " + group.Timezone)
	}
	return loc, nil
}

func weekdayName(d time.Weekday) string {
	switch d {
	case time.Sunday:
		return "sunday"
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	default:
		return "saturday"
	}
}
