package reminder

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"

	"github.com/halaqat/scheduler-api/internal/model"
)

// windowedSessionRepo mimics the reminder query: sessions whose start
// lies in (from, to] and that have no record for the event type yet.
type windowedSessionRepo struct {
	sessions   map[uuid.UUID]*model.Session
	reminded   map[string]map[uuid.UUID]bool
	automation []*model.AutomationEvent
}

func newWindowedSessionRepo(sessions ...*model.Session) *windowedSessionRepo {
	r := &windowedSessionRepo{
		sessions: make(map[uuid.UUID]*model.Session),
		reminded: make(map[string]map[uuid.UUID]bool),
	}
	for _, s := range sessions {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *windowedSessionRepo) Create(ctx context.Context, s *model.Session) error { return nil }
func (r *windowedSessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}
func (r *windowedSessionRepo) Update(ctx context.Context, s *model.Session) error { return nil }
func (r *windowedSessionRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }
func (r *windowedSessionRepo) List(ctx context.Context, f *model.SessionFilters) ([]*model.Session, error) {
	return nil, nil
}
func (r *windowedSessionRepo) TransitionWithOutbox(ctx context.Context, s *model.Session, e *model.AutomationEvent, o *model.OutboxEvent) error {
	return nil
}
func (r *windowedSessionRepo) AssignResource(ctx context.Context, sessionID uuid.UUID, resourceID *uuid.UUID) error {
	return nil
}
func (r *windowedSessionRepo) AppendAutomationEvent(ctx context.Context, event *model.AutomationEvent) error {
	r.automation = append(r.automation, event)
	return nil
}
func (r *windowedSessionRepo) ListAutomationEvents(ctx context.Context, sessionID uuid.UUID) ([]*model.AutomationEvent, error) {
	return r.automation, nil
}

func (r *windowedSessionRepo) ListDueForReminder(ctx context.Context, eventType string, from, to time.Time) ([]*model.Session, error) {
	var due []*model.Session
	for _, s := range r.sessions {
		if s.Status != model.SessionStatusScheduled {
			continue
		}
		if !s.StartsAt.After(from) || s.StartsAt.After(to) {
			continue
		}
		if r.reminded[eventType][s.ID] {
			continue
		}
		due = append(due, s)
	}
	return due, nil
}

func (r *windowedSessionRepo) markReminded(eventType string, sessionID uuid.UUID) {
	if r.reminded[eventType] == nil {
		r.reminded[eventType] = make(map[uuid.UUID]bool)
	}
	r.reminded[eventType][sessionID] = true
}

type recordingNotifier struct {
	repo     *windowedSessionRepo
	reminded []uuid.UUID
	err      error
}

func (n *recordingNotifier) Remind(ctx context.Context, session *model.Session, reminderType model.ReminderType, manual bool) (*model.CascadeSummary, error) {
	if n.err != nil {
		return nil, n.err
	}
	n.reminded = append(n.reminded, session.ID)
	if !manual && n.repo != nil {
		n.repo.markReminded(reminderType.EventType(), session.ID)
	}
	return &model.CascadeSummary{Attempted: 1, Sent: 1}, nil
}

func sessionStartingIn(now time.Time, lead time.Duration) *model.Session {
	s := &model.Session{
		GroupID:  uuid.New(),
		Status:   model.SessionStatusScheduled,
		StartsAt: now.Add(lead),
	}
	s.ID = uuid.New()
	return s
}

func newScanService(repo *windowedSessionRepo, n Notifier, now time.Time) *Service {
	svc := NewService(repo, n, DefaultWindows(), nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestScanWindowBoundaries(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)

	inside := sessionStartingIn(now, 23*time.Hour+59*time.Minute)
	outside := sessionStartingIn(now, 24*time.Hour+time.Minute)
	past := sessionStartingIn(now, -time.Hour)

	repo := newWindowedSessionRepo(inside, outside, past)
	n := &recordingNotifier{repo: repo}
	svc := newScanService(repo, n, now)

	summary, err := svc.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	require.Len(t, n.reminded, 1)
	assert.Equal(t, inside.ID, n.reminded[0])
}

func TestScanExactWindowEdgeIncluded(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	edge := sessionStartingIn(now, 24*time.Hour)

	repo := newWindowedSessionRepo(edge)
	n := &recordingNotifier{repo: repo}
	svc := newScanService(repo, n, now)

	summary, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestScanSecondPassSkipsRemindedSessions(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)

	repo := newWindowedSessionRepo(session)
	n := &recordingNotifier{repo: repo}
	svc := newScanService(repo, n, now)

	first, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	second, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Due)
	assert.Len(t, n.reminded, 1)
}

func TestScanSessionInsideBothWindows(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	// 30 minutes out: due for both the 24h and the 1h window types.
	session := sessionStartingIn(now, 30*time.Minute)

	repo := newWindowedSessionRepo(session)
	n := &recordingNotifier{repo: repo}
	svc := newScanService(repo, n, now)

	summary, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent, "one reminder per window type")
}

func TestScanRecordsAutomationEvents(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)

	repo := newWindowedSessionRepo(session)
	svc := newScanService(repo, &recordingNotifier{repo: repo}, now)

	_, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.automation, 1)
	assert.Equal(t, model.AutomationReminderSent, repo.automation[0].EventType)
}

func TestScanCountsDispatchFailures(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)

	repo := newWindowedSessionRepo(session)
	svc := newScanService(repo, &recordingNotifier{err: assert.AnError}, now)

	summary, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
}

func TestTriggerManualValidation(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)
	repo := newWindowedSessionRepo(session)
	svc := newScanService(repo, &recordingNotifier{repo: repo}, now)

	_, err := svc.TriggerManual(context.Background(), session.ID, model.ReminderType("2days"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = svc.TriggerManual(context.Background(), uuid.New(), model.Reminder1Hour)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestTriggerManualRejectsNonScheduled(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)
	session.Status = model.SessionStatusCancelled
	repo := newWindowedSessionRepo(session)
	svc := newScanService(repo, &recordingNotifier{repo: repo}, now)

	_, err := svc.TriggerManual(context.Background(), session.ID, model.Reminder1Hour)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestTriggerManualSendsAgain(t *testing.T) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	session := sessionStartingIn(now, 2*time.Hour)
	repo := newWindowedSessionRepo(session)
	n := &recordingNotifier{repo: repo}
	svc := newScanService(repo, n, now)

	_, err := svc.Scan(context.Background())
	require.NoError(t, err)

	summary, err := svc.TriggerManual(context.Background(), session.ID, model.Reminder1Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Len(t, n.reminded, 2)
}
