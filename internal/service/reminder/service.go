package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/metrics"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
)

// Notifier is the cascade surface the scanner drives.
type Notifier interface {
	Remind(ctx context.Context, session *model.Session, reminderType model.ReminderType, manual bool) (*model.CascadeSummary, error)
}

// Window pairs a reminder type with its lead time before the session.
type Window struct {
	Type model.ReminderType
	Size time.Duration
}

// DefaultWindows are used when configuration supplies none.
func DefaultWindows() []Window {
	return []Window{
		{Type: model.Reminder24Hours, Size: 24 * time.Hour},
		{Type: model.Reminder1Hour, Size: time.Hour},
	}
}

// ScanSummary aggregates one scan pass across all windows.
type ScanSummary struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Service finds scheduled sessions entering a reminder window and hands
// them to the cascade. The per-window already-sent guard lives in the
// session query, so overlapping scan passes cannot double-remind.
type Service struct {
	sessions repository.SessionRepository
	notifier Notifier
	windows  []Window
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(sessions repository.SessionRepository, notifier Notifier, windows []Window, m *metrics.Metrics, l *logger.Logger) *Service {
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	return &Service{
		sessions: sessions,
		notifier: notifier,
		windows:  windows,
		metrics:  m,
		logger:   l,
		now:      time.Now,
	}
}

// Scan runs one pass over every configured window. A session is due
// when its start lies in (now, now+window]; sessions starting in the
// past are never reminded.
func (s *Service) Scan(ctx context.Context) (*ScanSummary, error) {
	summary := &ScanSummary{}
	now := s.now()

	for _, window := range s.windows {
		due, err := s.sessions.ListDueForReminder(ctx, window.Type.EventType(), now, now.Add(window.Size))
		if err != nil {
			if s.metrics != nil {
				s.metrics.ReminderScanErrors.Inc()
			}
			return summary, fmt.Errorf("failed to scan %s window: %w", window.Type, err)
		}
		if s.metrics != nil {
			s.metrics.ReminderSessionsDue.WithLabelValues(string(window.Type)).Set(float64(len(due)))
		}
		summary.Due += len(due)

		for _, session := range due {
			if err := s.remind(ctx, session, window.Type); err != nil {
				summary.Failed++
				if s.logger != nil {
					s.logger.Error(err, "reminder dispatch failed",
						"session_id", session.ID.String(),
						"window", string(window.Type))
				}
				continue
			}
			summary.Sent++
		}
	}
	return summary, nil
}

func (s *Service) remind(ctx context.Context, session *model.Session, reminderType model.ReminderType) error {
	cascade, err := s.notifier.Remind(ctx, session, reminderType, false)
	if err != nil {
		return err
	}

	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: session.ID,
		EventType: model.AutomationReminderSent,
		Result: fmt.Sprintf("%s attempted=%d sent=%d failed=%d",
			reminderType, cascade.Attempted, cascade.Sent, cascade.Failed),
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record reminder dispatch")
	}
	return nil
}

// TriggerManual sends a reminder for one session on demand, bypassing
// the already-sent guard. Disabled automation or an empty roster is a
// validation error surfaced to the operator.
func (s *Service) TriggerManual(ctx context.Context, sessionID uuid.UUID, reminderType model.ReminderType) (*model.CascadeSummary, error) {
	if !reminderType.Valid() {
		return nil, apperrors.NewValidation("unknown reminder type: " + string(reminderType))
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("session")
	}
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusScheduled {
		return nil, apperrors.NewValidation("cannot remind a " + string(session.Status) + " session")
	}

	cascade, err := s.notifier.Remind(ctx, session, reminderType, true)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.AppendAutomationEvent(ctx, &model.AutomationEvent{
		SessionID: session.ID,
		EventType: model.AutomationReminderSent,
		Result: fmt.Sprintf("manual %s attempted=%d sent=%d failed=%d",
			reminderType, cascade.Attempted, cascade.Sent, cascade.Failed),
	}); err != nil && s.logger != nil {
		s.logger.Error(err, "failed to record manual reminder")
	}
	return cascade, nil
}
