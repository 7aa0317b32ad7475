package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaqat/scheduler-api/internal/model"
)

func testRecord() *model.NotificationRecord {
	return &model.NotificationRecord{
		SessionID:     uuid.New(),
		GroupID:       uuid.New(),
		RecipientID:   uuid.New(),
		RecipientRole: model.RoleStudent,
		EventType:     model.EventSessionCancelled,
		Channel:       model.ChannelWhatsApp,
		Language:      model.LanguageArabic,
		Message:       "body",
	}
}

func TestCreateIfAbsentInsertsFirstRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	record := testRecord()
	mock.ExpectExec("INSERT INTO notification_records(.|\n)*ON CONFLICT").
		WithArgs(sqlmock.AnyArg(), record.SessionID, record.GroupID, record.RecipientID,
			record.RecipientRole, record.EventType, record.Channel, record.Language,
			record.Message, model.NotificationStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.CreateIfAbsent(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEqual(t, uuid.Nil, record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIfAbsentSkipsDuplicateKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	record := testRecord()
	// ON CONFLICT DO NOTHING reports zero affected rows for a held key.
	mock.ExpectExec("INSERT INTO notification_records(.|\n)*ON CONFLICT").
		WithArgs(sqlmock.AnyArg(), record.SessionID, record.GroupID, record.RecipientID,
			record.RecipientRole, record.EventType, record.Channel, record.Language,
			record.Message, model.NotificationStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.CreateIfAbsent(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManualAlwaysInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	record := testRecord()
	mock.ExpectExec("INSERT INTO notification_records").
		WithArgs(sqlmock.AnyArg(), record.SessionID, record.GroupID, record.RecipientID,
			record.RecipientRole, record.EventType, record.Channel, record.Language,
			record.Message, model.NotificationStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateManual(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOutcomeWritesStatusAndDetail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	id := uuid.New()
	detail := "gateway returned 502"
	mock.ExpectExec("UPDATE notification_records").
		WithArgs(model.NotificationStatusFailed, nil, sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateOutcome(context.Background(), id, model.NotificationStatusFailed, nil, &detail)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
