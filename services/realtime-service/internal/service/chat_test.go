package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
)

type mockMessageStore struct{ mock.Mock }

func (m *mockMessageStore) CreateMessage(ctx context.Context, senderID, receiverID domain.UserID, content string) (*domain.ChatMessage, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	var msg *domain.ChatMessage
	if args.Get(0) != nil {
		msg = args.Get(0).(*domain.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *mockMessageStore) ListConversation(ctx context.Context, userA, userB domain.UserID, limit int) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, userA, userB, limit)
	var msgs []*domain.ChatMessage
	if args.Get(0) != nil {
		msgs = args.Get(0).([]*domain.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *mockMessageStore) MarkConversationRead(ctx context.Context, readerID, otherID domain.UserID) (int64, error) {
	args := m.Called(ctx, readerID, otherID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMessageStore) UnreadCount(ctx context.Context, userID domain.UserID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type mockPusher struct{ mock.Mock }

func (m *mockPusher) SendToUser(userID domain.UserID, env contracts.Envelope) bool {
	return m.Called(userID, env).Bool(0)
}

func (m *mockPusher) Broadcast(env contracts.Envelope) {
	m.Called(env)
}

type mockEventPublisher struct{ mock.Mock }

func (m *mockEventPublisher) PublishMessageCreated(ctx context.Context, msg *domain.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockEventPublisher) PublishBookingStatusChanged(ctx context.Context, booking *domain.Booking, actorID domain.UserID) error {
	return m.Called(ctx, booking, actorID).Error(0)
}

func serviceLogger() *logging.Logger {
	cfg := logging.DefaultConfig("test")
	cfg.Level = logging.LevelError
	cfg.PrettyLog = false
	return logging.NewLogger(cfg)
}

func TestChatService_PersistsThenPushes(t *testing.T) {
	store := &mockMessageStore{}
	pusher := &mockPusher{}
	publisher := &mockEventPublisher{}

	persisted := &domain.ChatMessage{
		ID:         "msg-1",
		SenderID:   "user-1",
		ReceiverID: "user-2",
		Content:    "hello",
		CreatedAt:  time.Now(),
	}
	store.On("CreateMessage", mock.Anything, "user-1", "user-2", "hello").Return(persisted, nil)
	publisher.On("PublishMessageCreated", mock.Anything, persisted).Return(nil)
	pusher.On("SendToUser", "user-2", mock.MatchedBy(func(env contracts.Envelope) bool {
		return env.Type == contracts.EventMessageReceived
	})).Return(true)

	svc := NewChatService(store, pusher, publisher, serviceLogger(), nil)

	msg, delivered, err := svc.Handle(context.Background(), "user-1", "user-2", "hello")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, "msg-1", msg.ID)

	store.AssertExpectations(t)
	pusher.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestChatService_OfflineRecipientStillPersists(t *testing.T) {
	store := &mockMessageStore{}
	pusher := &mockPusher{}

	persisted := &domain.ChatMessage{ID: "msg-2", SenderID: "user-1", ReceiverID: "user-2", Content: "hello"}
	store.On("CreateMessage", mock.Anything, "user-1", "user-2", "hello").Return(persisted, nil)
	pusher.On("SendToUser", "user-2", mock.Anything).Return(false)

	svc := NewChatService(store, pusher, nil, serviceLogger(), nil)

	msg, delivered, err := svc.Handle(context.Background(), "user-1", "user-2", "hello")
	require.NoError(t, err)
	assert.False(t, delivered, "offline recipient means undelivered, not an error")
	assert.Equal(t, "msg-2", msg.ID)
}

func TestChatService_PersistenceFailureNoPush(t *testing.T) {
	store := &mockMessageStore{}
	pusher := &mockPusher{}

	store.On("CreateMessage", mock.Anything, "user-1", "user-2", "hello").
		Return(nil, assert.AnError)

	svc := NewChatService(store, pusher, nil, serviceLogger(), nil)

	_, _, err := svc.Handle(context.Background(), "user-1", "user-2", "hello")
	require.Error(t, err)
	pusher.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything)
}

func TestChatService_EmptyContentRejected(t *testing.T) {
	store := &mockMessageStore{}
	svc := NewChatService(store, &mockPusher{}, nil, serviceLogger(), nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, _, err := svc.Handle(context.Background(), "user-1", "user-2", text)
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
	}
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatService_PublishFailureDoesNotBlockDelivery(t *testing.T) {
	store := &mockMessageStore{}
	pusher := &mockPusher{}
	publisher := &mockEventPublisher{}

	persisted := &domain.ChatMessage{ID: "msg-3", SenderID: "user-1", ReceiverID: "user-2", Content: "hello"}
	store.On("CreateMessage", mock.Anything, "user-1", "user-2", "hello").Return(persisted, nil)
	publisher.On("PublishMessageCreated", mock.Anything, persisted).Return(assert.AnError)
	pusher.On("SendToUser", "user-2", mock.Anything).Return(true)

	svc := NewChatService(store, pusher, publisher, serviceLogger(), nil)

	_, delivered, err := svc.Handle(context.Background(), "user-1", "user-2", "hello")
	require.NoError(t, err, "broker failure is logged, not surfaced")
	assert.True(t, delivered)
}
