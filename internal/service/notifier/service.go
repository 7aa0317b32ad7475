package notifier

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
	"github.com/halaqat/scheduler-api/pkg/metrics"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
	"github.com/halaqat/scheduler-api/internal/template"
	"github.com/halaqat/scheduler-api/internal/transport"
)

// Service consumes lifecycle-change and reminder-due events, resolves
// the recipient set, renders localized messages and dispatches them via
// the external transport, recording a per-recipient outcome.
type Service struct {
	records    repository.NotificationRepository
	sessions   repository.SessionRepository
	groups     repository.GroupRepository
	resources  repository.ResourceRepository
	renderer   template.Renderer
	messengers map[string]transport.Messenger
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(
	records repository.NotificationRepository,
	sessions repository.SessionRepository,
	groups repository.GroupRepository,
	resources repository.ResourceRepository,
	renderer template.Renderer,
	messengers map[string]transport.Messenger,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		records:    records,
		sessions:   sessions,
		groups:     groups,
		resources:  resources,
		renderer:   renderer,
		messengers: messengers,
		metrics:    m,
		logger:     l,
		now:        time.Now,
	}
}

// Broadcast fans a lifecycle-change event out to the session's group.
// Groups with broadcasts disabled are a silent no-op.
func (s *Service) Broadcast(ctx context.Context, event model.LifecycleEvent) (*model.CascadeSummary, error) {
	session, err := s.getSession(ctx, event.SessionID)
	if err != nil {
		return nil, err
	}

	group, err := s.getGroup(ctx, session.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.AutomationEnabledFor(event.EventType()) {
		return &model.CascadeSummary{}, nil
	}

	extra := map[string]string{"reason": event.Reason}
	return s.cascade(ctx, session, group, event.EventType(), extra, false)
}

// Remind fans a reminder-due event out. When manual is set the
// already-sent guard is bypassed and fresh records are written.
func (s *Service) Remind(ctx context.Context, session *model.Session, reminderType model.ReminderType, manual bool) (*model.CascadeSummary, error) {
	group, err := s.getGroup(ctx, session.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.RemindersEnabled {
		return nil, apperrors.NewValidation("reminders are disabled for this group")
	}

	summary, err := s.cascade(ctx, session, group, reminderType.EventType(), nil, manual)
	if err != nil {
		return nil, err
	}
	if summary.Attempted == 0 && summary.Skipped == 0 {
		return nil, apperrors.NewValidation("no eligible recipients")
	}
	return summary, nil
}

// Replay re-runs the cascade for a pending outbox event. The insert-if-
// absent record key makes this safe to call any number of times.
func (s *Service) Replay(ctx context.Context, evt *model.OutboxEvent) error {
	var event model.LifecycleEvent
	if err := json.Unmarshal(evt.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode lifecycle event: %w", err)
	}

	summary, err := s.Broadcast(ctx, event)
	if err != nil {
		return err
	}

	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: event.SessionID,
		EventType: model.AutomationBroadcastReplayed,
		Result:    summaryResult(summary),
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record broadcast replay")
	}
	return nil
}

// cascade runs the per-recipient loop. One recipient's failure must not
// abort the rest; outcomes are aggregated into the summary.
func (s *Service) cascade(ctx context.Context, session *model.Session, group *model.Group, eventType string, extra map[string]string, manual bool) (*model.CascadeSummary, error) {
	students, err := s.groups.ListStudents(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	recipients := ResolveRecipients(students, group.NotifyGuardians)
	meetingLink := s.meetingLink(ctx, session)

	summary := &model.CascadeSummary{}
	for _, recipient := range recipients {
		s.deliver(ctx, session, group, eventType, recipient, extra, meetingLink, manual, summary)
	}
	return summary, nil
}

func (s *Service) deliver(ctx context.Context, session *model.Session, group *model.Group, eventType string, recipient model.Recipient, extra map[string]string, meetingLink string, manual bool, summary *model.CascadeSummary) {
	vars := s.buildVars(session, group, recipient, extra, meetingLink)

	message, renderErr := s.renderer.Render(eventType, recipient.Role, recipient.Language, vars)

	record := &model.NotificationRecord{
		SessionID:     session.ID,
		GroupID:       group.ID,
		RecipientID:   recipient.RecipientID,
		RecipientRole: recipient.Role,
		EventType:     eventType,
		Channel:       recipient.Channel,
		Language:      recipient.Language,
		Message:       message,
		Status:        model.NotificationStatusPending,
	}

	if manual {
		if err := s.records.CreateManual(ctx, record); err != nil {
			s.logFailure(err, session.ID, recipient)
			summary.Failed++
			summary.Attempted++
			return
		}
	} else {
		inserted, err := s.records.CreateIfAbsent(ctx, record)
		if err != nil {
			s.logFailure(err, session.ID, recipient)
			summary.Failed++
			summary.Attempted++
			return
		}
		if !inserted {
			// Already recorded for this key; replay-safe skip.
			summary.Skipped++
			return
		}
	}

	summary.Attempted++

	if renderErr != nil {
		s.recordOutcome(ctx, record.ID, model.NotificationStatusFailed, renderErr)
		s.countFailure(recipient.Channel, eventType)
		summary.Failed++
		return
	}

	messenger, ok := s.messengers[recipient.Channel]
	if !ok {
		messenger, ok = s.messengers[model.ChannelWhatsApp]
	}
	if !ok {
		s.recordOutcome(ctx, record.ID, model.NotificationStatusFailed, fmt.Errorf("no messenger for channel %s", recipient.Channel))
		s.countFailure(recipient.Channel, eventType)
		summary.Failed++
		return
	}

	err := messenger.Send(ctx, transport.Message{To: recipient.Address, Body: message})
	if err != nil {
		sendErr := apperrors.NewTransportFailure(recipient.Channel, err)
		s.logFailure(sendErr, session.ID, recipient)
		s.recordOutcome(ctx, record.ID, model.NotificationStatusFailed, sendErr)
		s.countFailure(recipient.Channel, eventType)
		summary.Failed++
		return
	}

	sentAt := s.now()
	if err := s.records.UpdateOutcome(ctx, record.ID, model.NotificationStatusSent, &sentAt, nil); err != nil {
		s.logFailure(err, session.ID, recipient)
	}
	if s.metrics != nil {
		s.metrics.NotificationsSent.WithLabelValues(recipient.Channel, eventType).Inc()
	}
	summary.Sent++
}

// NotifyOne renders (and optionally sends) the message for a single
// recipient; operator tooling uses it to inspect output before a
// broadcast. Sends are always recorded as manual rows.
func (s *Service) NotifyOne(ctx context.Context, sessionID, groupID uuid.UUID, req *model.NotifyRequest) (string, *model.NotificationRecord, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return "", nil, err
	}

	student, err := s.groups.GetStudent(ctx, req.RecipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, apperrors.NewNotFound("recipient")
	}
	if err != nil {
		return "", nil, err
	}

	role := model.RecipientRole(req.Role)
	if role == "" {
		role = model.RoleStudent
	}
	recipient := buildRecipient(student, role)

	vars := s.buildVars(session, group, recipient, nil, s.meetingLink(ctx, session))
	message, err := s.renderer.Render(req.EventType, recipient.Role, recipient.Language, vars)
	if err != nil {
		return "", nil, apperrors.NewValidation(fmt.Sprintf("cannot render template: %v", err))
	}

	if !req.Send {
		return message, nil, nil
	}

	record := &model.NotificationRecord{
		SessionID:     session.ID,
		GroupID:       group.ID,
		RecipientID:   recipient.RecipientID,
		RecipientRole: recipient.Role,
		EventType:     req.EventType,
		Channel:       recipient.Channel,
		Language:      recipient.Language,
		Message:       message,
	}
	if err := s.records.CreateManual(ctx, record); err != nil {
		return "", nil, err
	}

	messenger := s.messengers[recipient.Channel]
	if messenger == nil {
		messenger = s.messengers[model.ChannelWhatsApp]
	}
	if messenger == nil {
		err := fmt.Errorf("no messenger for channel %s", recipient.Channel)
		s.recordOutcome(ctx, record.ID, model.NotificationStatusFailed, err)
		return message, record, apperrors.NewTransportFailure(recipient.Channel, err)
	}

	if err := messenger.Send(ctx, transport.Message{To: recipient.Address, Body: message}); err != nil {
		sendErr := apperrors.NewTransportFailure(recipient.Channel, err)
		s.recordOutcome(ctx, record.ID, model.NotificationStatusFailed, sendErr)
		return message, record, sendErr
	}

	sentAt := s.now()
	if err := s.records.UpdateOutcome(ctx, record.ID, model.NotificationStatusSent, &sentAt, nil); err == nil {
		record.Status = model.NotificationStatusSent
		record.SentAt = &sentAt
	}
	return message, record, nil
}

// StudentReminderAudit groups a student's reminder records per session
// with sent/failed counts and the last reminder date.
func (s *Service) StudentReminderAudit(ctx context.Context, studentID uuid.UUID) ([]model.SessionReminderAudit, error) {
	if _, err := s.groups.GetStudent(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("student")
		}
		return nil, err
	}

	records, err := s.records.ListRemindersByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	bySession := map[uuid.UUID]*model.SessionReminderAudit{}
	order := []uuid.UUID{}
	for _, record := range records {
		audit, ok := bySession[record.SessionID]
		if !ok {
			audit = &model.SessionReminderAudit{SessionID: record.SessionID}
			bySession[record.SessionID] = audit
			order = append(order, record.SessionID)
		}
		audit.Records = append(audit.Records, record)
		switch record.Status {
		case model.NotificationStatusSent:
			audit.Sent++
			if record.SentAt != nil && (audit.LastReminderDate == nil || record.SentAt.After(*audit.LastReminderDate)) {
				audit.LastReminderDate = record.SentAt
			}
		case model.NotificationStatusFailed:
			audit.Failed++
		}
	}

	audits := make([]model.SessionReminderAudit, 0, len(order))
	for _, id := range order {
		audits = append(audits, *bySession[id])
	}
	return audits, nil
}

// ResolveRecipients expands a roster into notification targets:
// every non-deleted student, plus guardians when enabled.
func ResolveRecipients(students []*model.Student, includeGuardians bool) []model.Recipient {
	recipients := make([]model.Recipient, 0, len(students))
	for _, student := range students {
		if student.DeletedAt != nil {
			continue
		}
		recipients = append(recipients, buildRecipient(student, model.RoleStudent))
		if includeGuardians && (student.GuardianPhone != "" || student.GuardianEmail != "") {
			recipients = append(recipients, buildRecipient(student, model.RoleGuardian))
		}
	}
	return recipients
}

func buildRecipient(student *model.Student, role model.RecipientRole) model.Recipient {
	language := student.Language
	if language == "" {
		language = model.LanguageArabic
	}
	channel := student.Channel
	if channel == "" {
		channel = model.ChannelWhatsApp
	}

	recipient := model.Recipient{
		RecipientID: student.ID,
		Role:        role,
		Name:        student.Name,
		Address:     student.Phone,
		Channel:     channel,
		Language:    language,
		StudentName: student.Name,
		Gender:      student.Gender,
		Relation:    student.GuardianRelation,
	}
	if channel == model.ChannelEmail {
		recipient.Address = student.Email
	}

	if role == model.RoleGuardian {
		recipient.Name = student.GuardianName
		recipient.Address = student.GuardianPhone
		if channel == model.ChannelEmail {
			recipient.Address = student.GuardianEmail
		}
	}
	return recipient
}

func (s *Service) buildVars(session *model.Session, group *model.Group, recipient model.Recipient, extra map[string]string, meetingLink string) map[string]string {
	vars := map[string]string{
		"studentName":  recipient.StudentName,
		"guardianName": recipient.Name,
		"salutation":   template.Salutation(recipient.Role, recipient.Gender, recipient.Relation, recipient.Language),
		"sessionDate":  session.ScheduledDate.Format("2006-01-02"),
		"sessionTime":  session.StartTime,
		"groupName":    group.Name,
		"meetingLink":  meetingLink,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func (s *Service) meetingLink(ctx context.Context, session *model.Session) string {
	if session.ResourceID == nil {
		return ""
	}
	resource, err := s.resources.Get(ctx, *session.ResourceID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "failed to resolve meeting link")
		}
		return ""
	}
	return resource.MeetingLink
}

func (s *Service) getSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("session")
	}
	if err != nil {
		return nil, err
	}
	return session, nil
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

func (s *Service) recordOutcome(ctx context.Context, id uuid.UUID, status model.NotificationStatus, cause error) {
	detail := cause.Error()
	if err := s.records.UpdateOutcome(ctx, id, status, nil, &detail); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to update notification outcome")
	}
}

func (s *Service) countFailure(channel, eventType string) {
	if s.metrics != nil {
		s.metrics.NotificationsFailed.WithLabelValues(channel, eventType).Inc()
	}
}

func (s *Service) logFailure(err error, sessionID uuid.UUID, recipient model.Recipient) {
	if s.logger != nil {
		s.logger.Error(err, "notification delivery failed",
			"session_id", sessionID.String(),
			"recipient_id", recipient.RecipientID.String(),
			"role", string(recipient.Role))
	}
}

func summaryResult(summary *model.CascadeSummary) string {
	return fmt.Sprintf("attempted=%d sent=%d failed=%d skipped=%d",
		summary.Attempted, summary.Sent, summary.Failed, summary.Skipped)
}
