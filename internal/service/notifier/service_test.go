package notifier

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
	"github.com/halaqat/scheduler-api/internal/template"
	"github.com/halaqat/scheduler-api/internal/transport"
)

type recordKey struct {
	sessionID   uuid.UUID
	eventType   string
	recipientID uuid.UUID
	role        model.RecipientRole
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.NotificationRecord
	keys    map[recordKey]bool
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		records: make(map[uuid.UUID]*model.NotificationRecord),
		keys:    make(map[recordKey]bool),
	}
}

func (r *fakeNotificationRepo) CreateIfAbsent(ctx context.Context, record *model.NotificationRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey{record.SessionID, record.EventType, record.RecipientID, record.RecipientRole}
	if r.keys[key] {
		return false, nil
	}
	r.keys[key] = true
	record.ID = uuid.New()
	record.Status = model.NotificationStatusPending
	r.records[record.ID] = record
	return true, nil
}

func (r *fakeNotificationRepo) CreateManual(ctx context.Context, record *model.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = uuid.New()
	record.Status = model.NotificationStatusPending
	r.records[record.ID] = record
	return nil
}

func (r *fakeNotificationRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, status model.NotificationStatus, sentAt *time.Time, errorDetail *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	record.Status = status
	record.SentAt = sentAt
	record.ErrorDetail = errorDetail
	return nil
}

func (r *fakeNotificationRepo) ExistsForSession(ctx context.Context, sessionID uuid.UUID, eventType string) (bool, error) {
	return false, nil
}

func (r *fakeNotificationRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.NotificationRecord, error) {
	return nil, nil
}

func (r *fakeNotificationRepo) ListRemindersByStudent(ctx context.Context, studentID uuid.UUID) ([]model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationRecord
	for _, record := range r.records {
		if record.RecipientID == studentID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) countByStatus(status model.NotificationStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, record := range r.records {
		if record.Status == status {
			n++
		}
	}
	return n
}

type fakeSessionRepo struct {
	sessions   map[uuid.UUID]*model.Session
	automation []*model.AutomationEvent
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error { return nil }
func (r *fakeSessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}
func (r *fakeSessionRepo) Update(ctx context.Context, s *model.Session) error { return nil }
func (r *fakeSessionRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }
func (r *fakeSessionRepo) List(ctx context.Context, f *model.SessionFilters) ([]*model.Session, error) {
	return nil, nil
}
func (r *fakeSessionRepo) TransitionWithOutbox(ctx context.Context, s *model.Session, e *model.AutomationEvent, o *model.OutboxEvent) error {
	return nil
}
func (r *fakeSessionRepo) AssignResource(ctx context.Context, sessionID uuid.UUID, resourceID *uuid.UUID) error {
	return nil
}
func (r *fakeSessionRepo) AppendAutomationEvent(ctx context.Context, event *model.AutomationEvent) error {
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
	groups   map[uuid.UUID]*model.Group
	students []*model.Student
}

func (r *fakeGroupRepo) Get(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	if g, ok := r.groups[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}
func (r *fakeGroupRepo) ListStudents(ctx context.Context, groupID uuid.UUID) ([]*model.Student, error) {
	return r.students, nil
}
func (r *fakeGroupRepo) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	for _, s := range r.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeResourceRepo struct{}

func (r *fakeResourceRepo) Create(ctx context.Context, resource *model.Resource) error { return nil }
func (r *fakeResourceRepo) Get(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	return &model.Resource{MeetingLink: "https://meet.example.com/abc"}, nil
}
func (r *fakeResourceRepo) Update(ctx context.Context, resource *model.Resource) error { return nil }
func (r *fakeResourceRepo) List(ctx context.Context) ([]*model.Resource, error)        { return nil, nil }
func (r *fakeResourceRepo) ListAvailable(ctx context.Context, q repository.AvailabilityQuery) ([]*model.Resource, error) {
	return nil, nil
}
func (r *fakeResourceRepo) MarkReserved(ctx context.Context, id uuid.UUID, reservation model.Reservation) (bool, error) {
	return true, nil
}
func (r *fakeResourceRepo) MarkReleased(ctx context.Context, id uuid.UUID) error { return nil }
func (r *fakeResourceRepo) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []transport.Message
	failTo map[string]bool
}

func (m *fakeMessenger) Send(ctx context.Context, msg transport.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[msg.To] {
		return errors.New("gateway unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func student(name, phone, language string, withGuardian bool) *model.Student {
	s := &model.Student{
		Name:     name,
		Gender:   model.GenderMale,
		Phone:    phone,
		Language: language,
	}
	s.ID = uuid.New()
	if withGuardian {
		s.GuardianName = name + " guardian"
		s.GuardianPhone = phone + "-g"
		s.GuardianRelation = model.RelationFather
	}
	return s
}

type fixture struct {
	svc       *Service
	records   *fakeNotificationRepo
	sessions  *fakeSessionRepo
	groups    *fakeGroupRepo
	messenger *fakeMessenger
	session   *model.Session
	group     *model.Group
}

func newFixture(t *testing.T, students []*model.Student, notifyGuardians bool) *fixture {
	t.Helper()

	group := &model.Group{
		Name:              "Tajweed A",
		RemindersEnabled:  true,
		BroadcastsEnabled: true,
		NotifyGuardians:   notifyGuardians,
	}
	group.ID = uuid.New()

	session := &model.Session{
		GroupID:       group.ID,
		ScheduledDate: time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		StartTime:     "17:00",
		Status:        model.SessionStatusScheduled,
	}
	session.ID = uuid.New()

	records := newFakeNotificationRepo()
	sessions := &fakeSessionRepo{sessions: map[uuid.UUID]*model.Session{session.ID: session}}
	groups := &fakeGroupRepo{groups: map[uuid.UUID]*model.Group{group.ID: group}, students: students}
	messenger := &fakeMessenger{failTo: map[string]bool{}}

	svc := NewService(records, sessions, groups, &fakeResourceRepo{},
		template.NewRenderer(template.NewMemoryStore()),
		map[string]transport.Messenger{model.ChannelWhatsApp: messenger},
		nil, nil)

	return &fixture{
		svc:       svc,
		records:   records,
		sessions:  sessions,
		groups:    groups,
		messenger: messenger,
		session:   session,
		group:     group,
	}
}

func cancelEvent(sessionID uuid.UUID) model.LifecycleEvent {
	return model.LifecycleEvent{
		SessionID:  sessionID,
		FromStatus: model.SessionStatusScheduled,
		ToStatus:   model.SessionStatusCancelled,
		Reason:     "teacher unavailable",
	}
}

func TestBroadcastDeliversToAllRecipients(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, true),
		student("Omar", "+222", model.LanguageEnglish, false),
	}, true)

	summary, err := f.svc.Broadcast(context.Background(), cancelEvent(f.session.ID))
	require.NoError(t, err)

	// Two students plus one guardian.
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 3, summary.Sent)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, f.messenger.sent, 3)
}

func TestBroadcastIsIdempotentPerRecipient(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
	}, false)

	event := cancelEvent(f.session.ID)
	first, err := f.svc.Broadcast(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	second, err := f.svc.Broadcast(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Attempted)
	assert.Equal(t, 1, second.Skipped)

	// One record total, one send total.
	assert.Len(t, f.records.records, 1)
	assert.Len(t, f.messenger.sent, 1)
}

func TestBroadcastIsolatesRecipientFailures(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
		student("Omar", "+222", model.LanguageArabic, false),
		student("Zaid", "+333", model.LanguageArabic, false),
	}, false)
	f.messenger.failTo["+222"] = true

	summary, err := f.svc.Broadcast(context.Background(), cancelEvent(f.session.ID))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, f.records.countByStatus(model.NotificationStatusFailed))
	assert.Equal(t, 2, f.records.countByStatus(model.NotificationStatusSent))
}

func TestBroadcastSkipsDisabledGroup(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
	}, false)
	f.group.BroadcastsEnabled = false

	summary, err := f.svc.Broadcast(context.Background(), cancelEvent(f.session.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Attempted)
	assert.Empty(t, f.messenger.sent)
}

func TestBroadcastSkipsDeletedStudents(t *testing.T) {
	deleted := student("Gone", "+999", model.LanguageArabic, false)
	now := time.Now()
	deleted.DeletedAt = &now

	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
		deleted,
	}, false)

	summary, err := f.svc.Broadcast(context.Background(), cancelEvent(f.session.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
}

func TestRemindManualBypassesGuard(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
	}, false)

	_, err := f.svc.Remind(context.Background(), f.session, model.Reminder24Hours, false)
	require.NoError(t, err)

	// Automatic pass again: skipped.
	second, err := f.svc.Remind(context.Background(), f.session, model.Reminder24Hours, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Attempted)

	// Manual resend writes a fresh record and sends again.
	manual, err := f.svc.Remind(context.Background(), f.session, model.Reminder24Hours, true)
	require.NoError(t, err)
	assert.Equal(t, 1, manual.Sent)
	assert.Len(t, f.messenger.sent, 2)
	assert.Len(t, f.records.records, 2)
}

func TestRemindRejectsDisabledGroup(t *testing.T) {
	f := newFixture(t, []*model.Student{
		student("Ahmed", "+111", model.LanguageArabic, false),
	}, false)
	f.group.RemindersEnabled = false

	_, err := f.svc.Remind(context.Background(), f.session, model.Reminder1Hour, true)
	require.Error(t, err)
}

func TestRemindRejectsEmptyRoster(t *testing.T) {
	f := newFixture(t, nil, false)

	_, err := f.svc.Remind(context.Background(), f.session, model.Reminder1Hour, true)
	require.Error(t, err)
}

func TestNotifyOnePreviewDoesNotSend(t *testing.T) {
	ahmed := student("Ahmed", "+111", model.LanguageArabic, false)
	f := newFixture(t, []*model.Student{ahmed}, false)

	message, record, err := f.svc.NotifyOne(context.Background(), f.session.ID, f.group.ID, &model.NotifyRequest{
		EventType:   model.EventReminder24Hours,
		RecipientID: ahmed.ID,
		Send:        false,
	})
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Contains(t, message, "Ahmed")
	assert.Contains(t, message, "Tajweed A")
	assert.Empty(t, f.messenger.sent)
	assert.Empty(t, f.records.records)
}

func TestNotifyOneSendRecordsManualRow(t *testing.T) {
	ahmed := student("Ahmed", "+111", model.LanguageEnglish, false)
	f := newFixture(t, []*model.Student{ahmed}, false)

	_, record, err := f.svc.NotifyOne(context.Background(), f.session.ID, f.group.ID, &model.NotifyRequest{
		EventType:   model.EventSessionCancelled,
		RecipientID: ahmed.ID,
		Send:        true,
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, model.NotificationStatusSent, record.Status)
	assert.Len(t, f.messenger.sent, 1)
}

func TestStudentReminderAuditGroupsPerSession(t *testing.T) {
	ahmed := student("Ahmed", "+111", model.LanguageArabic, false)
	f := newFixture(t, []*model.Student{ahmed}, false)

	_, err := f.svc.Remind(context.Background(), f.session, model.Reminder24Hours, false)
	require.NoError(t, err)
	_, err = f.svc.Remind(context.Background(), f.session, model.Reminder1Hour, false)
	require.NoError(t, err)

	audits, err := f.svc.StudentReminderAudit(context.Background(), ahmed.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, f.session.ID, audits[0].SessionID)
	assert.Equal(t, 2, audits[0].Sent)
	assert.Equal(t, 0, audits[0].Failed)
	require.NotNil(t, audits[0].LastReminderDate)
	assert.Len(t, audits[0].Records, 2)
}
