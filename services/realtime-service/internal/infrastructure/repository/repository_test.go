package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/postgres"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(postgres.NewPostgresWithDB(db), nil), mock
}

func TestRepository_CreateMessage(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "user-1", "user-2", "hello", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.CreateMessage(context.Background(), "user-1", "user-2", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "user-1", msg.SenderID)
	assert.Equal(t, "user-2", msg.ReceiverID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Read)
	assert.WithinDuration(t, time.Now().UTC(), msg.CreatedAt, 2*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateMessageInsertFailure(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnError(assert.AnError)

	_, err := repo.CreateMessage(context.Background(), "user-1", "user-2", "hello")
	assert.Error(t, err)
}

func TestRepository_ListConversation(t *testing.T) {
	repo, mock := newTestRepository(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "content", "is_read", "created_at"}).
		AddRow("msg-2", "user-2", "user-1", "reply", false, now).
		AddRow("msg-1", "user-1", "user-2", "hi", true, now.Add(-time.Minute))

	mock.ExpectQuery("SELECT id, sender_id, receiver_id, content, is_read, created_at").
		WithArgs("user-1", "user-2", 50).
		WillReturnRows(rows)

	msgs, err := repo.ListConversation(context.Background(), "user-1", "user-2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg-2", msgs[0].ID, "newest first")
	assert.Equal(t, "msg-1", msgs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkConversationRead(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("UPDATE chat_messages").
		WithArgs("user-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	updated, err := repo.MarkConversationRead(context.Background(), "user-1", "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UnreadCountFallsBackToPostgres(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM chat_messages").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestRepository_GetBookingByID(t *testing.T) {
	repo, mock := newTestRepository(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, client_id, provider_id, status, updated_at").
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "provider_id", "status", "updated_at"}).
			AddRow("bk-1", "client-1", "provider-1", "pending", now))

	booking, err := repo.GetBookingByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", booking.ID)
	assert.Equal(t, domain.BookingPending, booking.Status)
	assert.True(t, booking.IsParticipant("client-1"))
	assert.True(t, booking.IsParticipant("provider-1"))
	assert.False(t, booking.IsParticipant("user-9"))
}

func TestRepository_GetBookingByIDNotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT id, client_id, provider_id, status, updated_at").
		WithArgs("bk-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "provider_id", "status", "updated_at"}))

	_, err := repo.GetBookingByID(context.Background(), "bk-404")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestRepository_UpdateBookingStatus(t *testing.T) {
	repo, mock := newTestRepository(t)

	now := time.Now()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs("bk-1", domain.BookingAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "provider_id", "status", "updated_at"}).
			AddRow("bk-1", "client-1", "provider-1", "accepted", now))

	booking, err := repo.UpdateBookingStatus(context.Background(), "bk-1", domain.BookingAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingAccepted, booking.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateBookingStatusMissingRow(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("UPDATE bookings").
		WithArgs("bk-404", domain.BookingCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "provider_id", "status", "updated_at"}))

	_, err := repo.UpdateBookingStatus(context.Background(), "bk-404", domain.BookingCancelled)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestRepository_PresenceWithoutRedis(t *testing.T) {
	repo, _ := newTestRepository(t)

	// Presence degrades to no-ops when Redis is not wired.
	assert.NoError(t, repo.SetOnline(context.Background(), "user-1", time.Minute))
	assert.NoError(t, repo.SetOffline(context.Background(), "user-1"))

	online, err := repo.IsOnline(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, online)
}
