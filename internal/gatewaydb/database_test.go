package gatewaydb

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectPrepare("INSERT INTO conversations")
	mock.ExpectPrepare("INSERT INTO messages")
	mock.ExpectPrepare("INSERT INTO choosee_presence")
	mock.ExpectPrepare("SELECT content, sent_at, from_chooser FROM messages")

	db, err := NewFromConn(sqlDB)
	require.NoError(t, err)

	t.Cleanup(func() { sqlDB.Close() })

	return db, mock
}

func TestNewConversationUpsert(t *testing.T) {
	db, mock := newTestDatabase(t)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("conv-1", "alice", "bob").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.NewConversation(context.Background(), "alice", "bob", "conv-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMessageWrapsDatabaseError(t *testing.T) {
	db, mock := newTestDatabase(t)

	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(context.DeadlineExceeded)

	err := db.NewMessage(context.Background(), "conv-1", "hi", true)
	require.Error(t, err)

	var dbErr *Error
	require.ErrorAs(t, err, &dbErr)
}

func TestGetMessagesReturnsRows(t *testing.T) {
	db, mock := newTestDatabase(t)

	sentAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"content", "sent_at", "from_chooser"}).
		AddRow("hi", sentAt, true)

	mock.ExpectQuery("SELECT content, sent_at, from_chooser FROM messages").
		WithArgs("conv-1", sentAt.Add(-time.Hour), int8(10)).
		WillReturnRows(rows)

	messages, err := db.GetMessages(context.Background(), "conv-1", 10, sentAt.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].Content)
	require.True(t, messages[0].FromChooser)
}
