package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/postgres"
	"github.com/lexora/legal-marketplace-api/shared/redis"
)

// Repository backs the message, booking and presence stores. Postgres is the
// source of truth; Redis carries presence keys and unread counters and every
// Redis failure is best-effort, never surfaced to the caller.
type Repository struct {
	postgres *postgres.Postgres
	redis    *redis.Redis
}

func NewRepository(pg *postgres.Postgres, rd *redis.Redis) *Repository {
	return &Repository{postgres: pg, redis: rd}
}

// Message operations

func (r *Repository) CreateMessage(ctx context.Context, senderID, receiverID domain.UserID, content string) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Read:       false,
		CreatedAt:  time.Now().UTC(),
	}

	query := `
		INSERT INTO chat_messages (id, sender_id, receiver_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.postgres.GetClient().ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.Read,
		msg.CreatedAt,
	)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("unknown sender or receiver: %w", err)
		}
		return nil, fmt.Errorf("failed to create chat message: %w", err)
	}

	// Unread counter in Redis is a cache; losing an increment only means the
	// next UnreadCount recomputes from Postgres.
	if r.redis != nil {
		_, _ = r.redis.Incr(ctx, redis.UnreadKey(receiverID))
	}

	return msg, nil
}

func (r *Repository) ListConversation(ctx context.Context, userA, userB domain.UserID, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM chat_messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.postgres.GetClient().QueryContext(ctx, query, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation: %w", err)
	}

	return messages, nil
}

func (r *Repository) MarkConversationRead(ctx context.Context, readerID, otherID domain.UserID) (int64, error) {
	query := `
		UPDATE chat_messages
		SET is_read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE
	`
	res, err := r.postgres.GetClient().ExecContext(ctx, query, readerID, otherID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if updated > 0 && r.redis != nil {
		if count, err := r.unreadFromPostgres(ctx, readerID); err == nil {
			_ = r.redis.SetWithExpiration(ctx, redis.UnreadKey(readerID), strconv.FormatInt(count, 10), 24*time.Hour)
		}
	}

	return updated, nil
}

func (r *Repository) UnreadCount(ctx context.Context, userID domain.UserID) (int64, error) {
	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, redis.UnreadKey(userID)); err == nil {
			if count, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return count, nil
			}
		}
	}

	count, err := r.unreadFromPostgres(ctx, userID)
	if err != nil {
		return 0, err
	}
	if r.redis != nil {
		_ = r.redis.SetWithExpiration(ctx, redis.UnreadKey(userID), strconv.FormatInt(count, 10), 24*time.Hour)
	}
	return count, nil
}

func (r *Repository) unreadFromPostgres(ctx context.Context, userID domain.UserID) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM chat_messages WHERE receiver_id = $1 AND is_read = FALSE`
	if err := r.postgres.GetClient().QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// Booking operations

func (r *Repository) GetBookingByID(ctx context.Context, id domain.BookingID) (*domain.Booking, error) {
	query := `
		SELECT id, client_id, provider_id, status, updated_at
		FROM bookings
		WHERE id = $1
	`
	row := r.postgres.GetClient().QueryRowContext(ctx, query, id)

	var booking domain.Booking
	err := row.Scan(
		&booking.ID,
		&booking.ClientID,
		&booking.ProviderID,
		&booking.Status,
		&booking.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return &booking, nil
}

func (r *Repository) UpdateBookingStatus(ctx context.Context, id domain.BookingID, status domain.BookingStatus) (*domain.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, client_id, provider_id, status, updated_at
	`
	row := r.postgres.GetClient().QueryRowContext(ctx, query, id, status)

	var booking domain.Booking
	err := row.Scan(
		&booking.ID,
		&booking.ClientID,
		&booking.ProviderID,
		&booking.Status,
		&booking.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}

	return &booking, nil
}

// Presence operations

func (r *Repository) SetOnline(ctx context.Context, userID domain.UserID, ttl time.Duration) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.SetWithExpiration(ctx, redis.PresenceKey(userID), "1", ttl)
}

func (r *Repository) SetOffline(ctx context.Context, userID domain.UserID) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Delete(ctx, redis.PresenceKey(userID))
}

func (r *Repository) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	if r.redis == nil {
		return false, nil
	}
	n, err := r.redis.Exists(ctx, redis.PresenceKey(userID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
