package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora/legal-marketplace-api/pkg/wsclient"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/auth"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/domain"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/hub"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/service"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/ws"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/recovery"
)

// memStore is an in-memory MessageStore and BookingStore so the full websocket
// stack can run without Postgres.
type memStore struct {
	mu       sync.Mutex
	messages []*domain.ChatMessage
	bookings map[string]*domain.Booking
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[string]*domain.Booking)}
}

func (s *memStore) CreateMessage(ctx context.Context, senderID, receiverID domain.UserID, content string) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := &domain.ChatMessage{
		ID:         fmt.Sprintf("msg-%d", s.nextID),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListConversation(ctx context.Context, userA, userB domain.UserID, limit int) ([]*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChatMessage
	for _, m := range s.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) MarkConversationRead(ctx context.Context, readerID, otherID domain.UserID) (int64, error) {
	return 0, nil
}

func (s *memStore) UnreadCount(ctx context.Context, userID domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetBookingByID(ctx context.Context, id domain.BookingID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	clone := *b
	return &clone, nil
}

func (s *memStore) UpdateBookingStatus(ctx context.Context, id domain.BookingID, status domain.BookingStatus) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	clone := *b
	return &clone, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type testEnv struct {
	server   *httptest.Server
	verifier *auth.Verifier
	registry *hub.Registry
	store    *memStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logCfg := logging.DefaultConfig("realtime-test")
	logCfg.Level = logging.LevelError
	logCfg.PrettyLog = false
	log := logging.NewLogger(logCfg)

	store := newMemStore()
	registry := hub.NewRegistry(log, nil)
	chatSvc := service.NewChatService(store, registry, nil, log, nil)
	bookingSvc := service.NewBookingService(store, registry, nil, log, nil)

	panics := recovery.NewPanicHandler(recovery.WithStackLogging(false))
	router := ws.NewRouter(chatSvc, bookingSvc, nil, time.Minute, panics, log, nil)
	verifier := auth.NewVerifier([]byte("e2e-secret"))
	server := ws.NewServer(registry, router, verifier, nil, ws.ServerConfig{
		FrameRate:  1000,
		FrameBurst: 1000,
	}, log, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(registry.CloseAll)

	return &testEnv{server: ts, verifier: verifier, registry: registry, store: store}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func (e *testEnv) connect(t *testing.T, userID string) *wsclient.Client {
	t.Helper()
	token, err := e.verifier.Issue(userID, time.Minute)
	require.NoError(t, err)

	client, err := wsclient.Dial(context.Background(), e.wsURL(), token)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func waitFor(t *testing.T, c *wsclient.Client, eventType string) contracts.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed while waiting for %s", eventType)
			}
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestRealtime_RejectsUpgradeWithoutToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := wsclient.Dial(context.Background(), env.wsURL(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRealtime_ConnectReceivesWelcome(t *testing.T) {
	env := newTestEnv(t)

	client := env.connect(t, "user-1")
	welcome := waitFor(t, client, contracts.EventConnect)

	var payload contracts.ConnectPayload
	require.NoError(t, json.Unmarshal(welcome.Data, &payload))
	assert.Equal(t, "user-1", payload.UserID)
}

func TestRealtime_ChatDeliveryBothOnline(t *testing.T) {
	env := newTestEnv(t)

	sender := env.connect(t, "user-1")
	recipient := env.connect(t, "user-2")
	waitFor(t, sender, contracts.EventConnect)
	waitFor(t, recipient, contracts.EventConnect)

	require.NoError(t, sender.SendChatMessage("req-1", "user-2", "hello there"))

	ack := waitFor(t, sender, contracts.EventMessageSent)
	assert.Equal(t, "req-1", ack.RequestID)
	var sent contracts.MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.True(t, sent.Delivered)

	pushed := waitFor(t, recipient, contracts.EventMessageReceived)
	var received contracts.MessageReceivedPayload
	require.NoError(t, json.Unmarshal(pushed.Data, &received))
	assert.Equal(t, "user-1", received.SenderID)
	assert.Equal(t, "hello there", received.Content)
	assert.Equal(t, sent.MessageID, received.MessageID)
}

func TestRealtime_ChatOfflineRecipientPersists(t *testing.T) {
	env := newTestEnv(t)

	sender := env.connect(t, "user-1")
	waitFor(t, sender, contracts.EventConnect)

	require.NoError(t, sender.SendChatMessage("req-1", "offline-user", "are you there"))

	ack := waitFor(t, sender, contracts.EventMessageSent)
	var sent contracts.MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.False(t, sent.Delivered, "offline recipient acks as undelivered")
	assert.Equal(t, 1, env.store.messageCount(), "message persists regardless of delivery")
}

func TestRealtime_MalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t)

	client := env.connect(t, "user-1")
	waitFor(t, client, contracts.EventConnect)

	require.NoError(t, client.Send(contracts.Envelope{Type: ""}))
	errEnv := waitFor(t, client, contracts.EventError)
	var payload contracts.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Data, &payload))
	assert.Equal(t, "Invalid message format", payload.Message)

	// The connection survives: a well-formed frame still round-trips.
	require.NoError(t, client.SendChatMessage("req-2", "user-2", "still alive"))
	waitFor(t, client, contracts.EventMessageSent)
}

func TestRealtime_BookingUpdateNotifiesCounterparty(t *testing.T) {
	env := newTestEnv(t)
	env.store.bookings["bk-1"] = &domain.Booking{
		ID:         "bk-1",
		ClientID:   "client-1",
		ProviderID: "provider-1",
		Status:     domain.BookingPending,
	}

	provider := env.connect(t, "provider-1")
	client := env.connect(t, "client-1")
	waitFor(t, provider, contracts.EventConnect)
	waitFor(t, client, contracts.EventConnect)

	require.NoError(t, provider.SendBookingStatus("req-1", "bk-1", "accepted"))

	notified := waitFor(t, client, contracts.EventBookingUpdated)
	var payload contracts.BookingUpdatedPayload
	require.NoError(t, json.Unmarshal(notified.Data, &payload))
	assert.Equal(t, "bk-1", payload.BookingID)
	assert.Equal(t, "accepted", payload.Status)
}

func TestRealtime_UnauthorizedBookingUpdateIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.store.bookings["bk-1"] = &domain.Booking{
		ID:         "bk-1",
		ClientID:   "client-1",
		ProviderID: "provider-1",
		Status:     domain.BookingPending,
	}

	intruder := env.connect(t, "intruder")
	waitFor(t, intruder, contracts.EventConnect)

	require.NoError(t, intruder.SendBookingStatus("req-1", "bk-1", "cancelled"))

	select {
	case env2 := <-intruder.Events():
		t.Fatalf("expected silence, got %s", env2.Type)
	case <-time.After(300 * time.Millisecond):
	}

	booking, err := env.store.GetBookingByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, booking.Status, "unauthorized update never persists")
}

func TestRealtime_ReconnectSupersedesOldConnection(t *testing.T) {
	env := newTestEnv(t)

	first := env.connect(t, "user-1")
	waitFor(t, first, contracts.EventConnect)

	second := env.connect(t, "user-1")
	waitFor(t, second, contracts.EventConnect)

	// The superseded connection's event stream closes.
	deadline := time.After(3 * time.Second)
	open := true
	for open {
		select {
		case _, ok := <-first.Events():
			open = ok
		case <-deadline:
			t.Fatal("superseded connection was not closed")
		}
	}

	assert.Equal(t, 1, env.registry.Len())

	// Pushes for the user land on the new connection.
	sender := env.connect(t, "user-2")
	waitFor(t, sender, contracts.EventConnect)
	require.NoError(t, sender.SendChatMessage("req-1", "user-1", "hi again"))
	waitFor(t, second, contracts.EventMessageReceived)
}

func TestRealtime_PingPong(t *testing.T) {
	env := newTestEnv(t)

	client := env.connect(t, "user-1")
	waitFor(t, client, contracts.EventConnect)

	require.NoError(t, client.Send(contracts.Envelope{Type: contracts.EventPing, RequestID: "req-p"}))
	pong := waitFor(t, client, contracts.EventPong)
	assert.Equal(t, "req-p", pong.RequestID)
}
