package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

const sendBufferSize = 64

// Conn is a live connection owned by the Registry. No other component may
// hold a long-lived reference.
type Conn interface {
	ID() string
	UserID() string
	Send(env contracts.Envelope) error
	Close()
	Alive() bool
	SetAlive(alive bool)
	OpenedAt() time.Time
}

// wsConn wraps a gorilla connection with a buffered write pump so a slow
// client cannot block the registry or the heartbeat monitor.
type wsConn struct {
	id       string
	userID   string
	sock     *websocket.Conn
	send     chan contracts.Envelope
	alive    atomic.Bool
	openedAt time.Time

	closeOnce sync.Once
	done      chan struct{}

	log *logging.Logger
}

// NewConn wraps an upgraded socket and starts its write pump.
func NewConn(userID string, sock *websocket.Conn, log *logging.Logger) Conn {
	c := &wsConn{
		id:       uuid.NewString(),
		userID:   userID,
		sock:     sock,
		send:     make(chan contracts.Envelope, sendBufferSize),
		openedAt: time.Now(),
		done:     make(chan struct{}),
		log:      log,
	}
	c.alive.Store(true)
	go c.writePump()
	return c
}

func (c *wsConn) ID() string           { return c.id }
func (c *wsConn) UserID() string       { return c.userID }
func (c *wsConn) OpenedAt() time.Time  { return c.openedAt }
func (c *wsConn) Alive() bool          { return c.alive.Load() }
func (c *wsConn) SetAlive(alive bool)  { c.alive.Store(alive) }

// Send queues an envelope for the write pump. A connection whose buffer is
// full cannot drain its socket and is closed rather than blocking the caller.
func (c *wsConn) Send(env contracts.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.log.WithField("user_id", c.userID).Warn("send buffer full, closing connection")
		c.Close()
		return ErrSendBufferFull
	}
}

// Close is idempotent and safe from any goroutine. The write pump owns the
// socket teardown; the read loop observes the socket error and exits.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	defer c.sock.Close()

	for {
		select {
		case env := <-c.send:
			if err := c.sock.WriteJSON(env); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(time.Second)
			_ = c.sock.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
