package session

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"

	"github.com/halaqat/scheduler-api/internal/model"
)

type fakeSessionRepo struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*model.Session
	automation  []*model.AutomationEvent
	outboxRows  []*model.OutboxEvent
	transitions int
}

func newFakeSessionRepo(sessions ...*model.Session) *fakeSessionRepo {
	r := &fakeSessionRepo{sessions: make(map[uuid.UUID]*model.Session)}
	for _, s := range sessions {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) Update(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = model.SessionStatusCancelled
	now := time.Now()
	s.DeletedAt = &now
	return nil
}

func (r *fakeSessionRepo) List(ctx context.Context, f *model.SessionFilters) ([]*model.Session, error) {
	return nil, nil
}

func (r *fakeSessionRepo) TransitionWithOutbox(ctx context.Context, s *model.Session, e *model.AutomationEvent, o *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Status = s.Status
	stored.ResourceID = s.ResourceID
	stored.StatusReason = s.StatusReason
	if e != nil {
		r.automation = append(r.automation, e)
	}
	if o != nil {
		o.ID = uuid.New()
		o.Status = model.OutboxStatusPending
		r.outboxRows = append(r.outboxRows, o)
	}
	r.transitions++
	return nil
}

func (r *fakeSessionRepo) AssignResource(ctx context.Context, sessionID uuid.UUID, resourceID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.ResourceID = resourceID
	}
	return nil
}

func (r *fakeSessionRepo) AppendAutomationEvent(ctx context.Context, event *model.AutomationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.automation = append(r.automation, event)
	return nil
}

func (r *fakeSessionRepo) ListAutomationEvents(ctx context.Context, sessionID uuid.UUID) ([]*model.AutomationEvent, error) {
	return r.automation, nil
}

func (r *fakeSessionRepo) ListDueForReminder(ctx context.Context, eventType string, from, to time.Time) ([]*model.Session, error) {
	return nil, nil
}

type fakeGroupRepo struct {
	groups map[uuid.UUID]*model.Group
}

func (r *fakeGroupRepo) Get(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	if g, ok := r.groups[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}
func (r *fakeGroupRepo) ListStudents(ctx context.Context, groupID uuid.UUID) ([]*model.Student, error) {
	return nil, nil
}
func (r *fakeGroupRepo) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	return nil, sql.ErrNoRows
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]model.OutboxStatus
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{statuses: make(map[uuid.UUID]model.OutboxStatus)}
}

func (r *fakeOutboxRepo) GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeScheduler struct {
	releases int
	reserves int
	noFree   bool
}

func (s *fakeScheduler) Reserve(ctx context.Context, session *model.Session) (*model.Resource, error) {
	s.reserves++
	if s.noFree {
		return nil, apperrors.NewNoResourceAvailable()
	}
	id := uuid.New()
	session.ResourceID = &id
	return &model.Resource{}, nil
}

func (s *fakeScheduler) Release(ctx context.Context, session *model.Session, reason string) error {
	if session.ResourceID != nil {
		s.releases++
		session.ResourceID = nil
	}
	return nil
}

type fakeCascade struct {
	broadcasts []model.LifecycleEvent
	summary    *model.CascadeSummary
	err        error
}

func (c *fakeCascade) Broadcast(ctx context.Context, event model.LifecycleEvent) (*model.CascadeSummary, error) {
	c.broadcasts = append(c.broadcasts, event)
	if c.err != nil {
		return nil, c.err
	}
	if c.summary != nil {
		return c.summary, nil
	}
	return &model.CascadeSummary{}, nil
}

func scheduledSession() *model.Session {
	resourceID := uuid.New()
	s := &model.Session{
		GroupID:       uuid.New(),
		CourseID:      uuid.New(),
		ScheduledDate: time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		StartTime:     "17:00",
		EndTime:       "18:00",
		StartsAt:      time.Date(2026, 9, 7, 17, 0, 0, 0, time.UTC),
		EndsAt:        time.Date(2026, 9, 7, 18, 0, 0, 0, time.UTC),
		Status:        model.SessionStatusScheduled,
		ResourceID:    &resourceID,
	}
	s.ID = uuid.New()
	return s
}

func newTestService(repo *fakeSessionRepo, sched *fakeScheduler, cascade *fakeCascade) *Service {
	return NewService(repo, &fakeGroupRepo{}, newFakeOutboxRepo(), sched, cascade, nil, nil, nil)
}

func TestTransitionCancelReleasesAndEnqueuesOnce(t *testing.T) {
	session := scheduledSession()
	repo := newFakeSessionRepo(session)
	sched := &fakeScheduler{}
	cascade := &fakeCascade{summary: &model.CascadeSummary{Attempted: 2, Sent: 2}}
	svc := newTestService(repo, sched, cascade)

	result, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusCancelled,
		Reason:   "teacher unavailable",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, result.Session.Status)
	assert.Equal(t, 1, sched.releases, "exactly one release")
	require.Len(t, repo.outboxRows, 1, "exactly one outbox enqueue")
	assert.Equal(t, model.EventSessionCancelled, repo.outboxRows[0].EventType)
	require.NotNil(t, result.Cascade)
	assert.Equal(t, 2, result.Cascade.Sent)
	require.Len(t, cascade.broadcasts, 1)
	assert.Equal(t, "teacher unavailable", cascade.broadcasts[0].Reason)
}

func TestTransitionFromTerminalRejected(t *testing.T) {
	session := scheduledSession()
	session.Status = model.SessionStatusCompleted
	repo := newFakeSessionRepo(session)
	svc := newTestService(repo, &fakeScheduler{}, &fakeCascade{})

	_, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusScheduled,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, 0, repo.transitions)
}

func TestTransitionSameStatusRejected(t *testing.T) {
	session := scheduledSession()
	repo := newFakeSessionRepo(session)
	svc := newTestService(repo, &fakeScheduler{}, &fakeCascade{})

	_, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusScheduled,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
}

func TestTransitionCancelledTwiceRejectsSecondCall(t *testing.T) {
	session := scheduledSession()
	repo := newFakeSessionRepo(session)
	sched := &fakeScheduler{}
	svc := newTestService(repo, sched, &fakeCascade{})

	_, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusCancelled,
	})
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusCancelled,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, 1, sched.releases)
	assert.Len(t, repo.outboxRows, 1)
}

func TestTransitionPostponedToScheduledReReserves(t *testing.T) {
	session := scheduledSession()
	session.Status = model.SessionStatusPostponed
	session.ResourceID = nil
	repo := newFakeSessionRepo(session)
	sched := &fakeScheduler{}
	svc := newTestService(repo, sched, &fakeCascade{})

	result, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusScheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.reserves)
	assert.NotNil(t, result.Session.ResourceID)
	require.Len(t, repo.outboxRows, 1)
	assert.Equal(t, model.EventSessionRescheduled, repo.outboxRows[0].EventType)
}

func TestTransitionPostponedToScheduledSurvivesExhaustedPool(t *testing.T) {
	session := scheduledSession()
	session.Status = model.SessionStatusPostponed
	session.ResourceID = nil
	repo := newFakeSessionRepo(session)
	sched := &fakeScheduler{noFree: true}
	svc := newTestService(repo, sched, &fakeCascade{})

	result, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusScheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, result.Session.Status)
	assert.Nil(t, result.Session.ResourceID)
}

func TestTransitionCascadeFailureLeavesOutboxPending(t *testing.T) {
	session := scheduledSession()
	repo := newFakeSessionRepo(session)
	outbox := newFakeOutboxRepo()
	cascade := &fakeCascade{err: assert.AnError}
	svc := NewService(repo, &fakeGroupRepo{}, outbox, &fakeScheduler{}, cascade, nil, nil, nil)

	result, err := svc.Transition(context.Background(), session.ID, &model.TransitionRequest{
		ToStatus: model.SessionStatusCancelled,
	})
	require.NoError(t, err, "dispatch failure must not fail the transition")
	assert.Nil(t, result.Cascade)
	require.Len(t, repo.outboxRows, 1)
	// Never marked processed; the worker picks it up.
	_, updated := outbox.statuses[repo.outboxRows[0].ID]
	assert.False(t, updated)
}

func TestSoftDeleteReleasesResource(t *testing.T) {
	session := scheduledSession()
	repo := newFakeSessionRepo(session)
	sched := &fakeScheduler{}
	svc := newTestService(repo, sched, &fakeCascade{})

	require.NoError(t, svc.SoftDelete(context.Background(), session.ID))
	assert.Equal(t, 1, sched.releases)
	assert.Equal(t, model.SessionStatusCancelled, repo.sessions[session.ID].Status)
}

func TestGenerateFromGroupExpandsRecurrence(t *testing.T) {
	group := &model.Group{
		CourseID:   uuid.New(),
		Timezone:   "Asia/Riyadh",
		DaysOfWeek: []string{"sunday", "tuesday"},
		TimeFrom:   "17:00",
		TimeTo:     "18:30",
	}
	group.ID = uuid.New()

	repo := newFakeSessionRepo()
	groups := &fakeGroupRepo{groups: map[uuid.UUID]*model.Group{group.ID: group}}
	sched := &fakeScheduler{}
	svc := NewService(repo, groups, newFakeOutboxRepo(), sched, &fakeCascade{}, nil, nil, nil)

	// 2026-09-06 is a Sunday.
	sessions, err := svc.GenerateFromGroup(context.Background(), group.ID, &model.GenerateSessionsRequest{
		From: "2026-09-06",
		To:   "2026-09-12",
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	loc, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 6, 17, 0, 0, 0, loc).UTC(), sessions[0].StartsAt.UTC())
	assert.Equal(t, "18:30", sessions[0].EndTime)
	assert.Equal(t, time.Tuesday, sessions[1].StartsAt.In(loc).Weekday())
	assert.Equal(t, 2, sched.reserves)
}

func TestGenerateFromGroupRejectsInvertedRange(t *testing.T) {
	group := &model.Group{DaysOfWeek: []string{"monday"}, TimeFrom: "10:00", TimeTo: "11:00"}
	group.ID = uuid.New()
	groups := &fakeGroupRepo{groups: map[uuid.UUID]*model.Group{group.ID: group}}
	svc := NewService(newFakeSessionRepo(), groups, newFakeOutboxRepo(), &fakeScheduler{}, &fakeCascade{}, nil, nil, nil)

	_, err := svc.GenerateFromGroup(context.Background(), group.ID, &model.GenerateSessionsRequest{
		From: "2026-09-12",
		To:   "2026-09-06",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}
