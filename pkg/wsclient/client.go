// Package wsclient is the Go client for the realtime websocket endpoint. It
// is used by internal tooling and integration tests; browser clients speak
// the same envelope protocol over their native WebSocket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexora/legal-marketplace-api/shared/contracts"
)

var ErrNotConnected = errors.New("wsclient: not connected")

const eventBufferSize = 128

// Client is a single-connection websocket client. It does not reconnect on
// its own: when the connection drops, IsConnected turns false and Events is
// closed, and the caller decides whether to dial again.
type Client struct {
	conn *websocket.Conn

	// gorilla permits one concurrent writer; writeMu serializes Send with
	// the internal pong replies.
	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	last      *contracts.Envelope

	events    chan contracts.Envelope
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the realtime endpoint. url is the full ws:// or wss://
// address of the /ws route; token is the session token placed in the query
// string the way the server expects it.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, fmt.Sprintf("%s?token=%s", url, token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsclient: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("wsclient: dial failed: %w", err)
	}

	c := &Client{
		conn:      conn,
		connected: true,
		events:    make(chan contracts.Envelope, eventBufferSize),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// IsConnected reports whether the connection is still up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Events returns the inbound envelope stream. The channel is closed when the
// connection drops or Close is called. Server pings are answered internally
// and do not appear on the stream.
func (c *Client) Events() <-chan contracts.Envelope {
	return c.events
}

// Last returns the most recently received envelope, or nil before the first.
func (c *Client) Last() *contracts.Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Send marshals and writes an envelope. It fails fast when disconnected.
func (c *Client) Send(env contracts.Envelope) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("wsclient: write failed: %w", err)
	}
	return nil
}

// SendChatMessage sends a chat_message envelope with the given correlation id.
func (c *Client) SendChatMessage(requestID, recipientID, text string) error {
	data, err := json.Marshal(contracts.ChatMessagePayload{RecipientID: recipientID, Text: text})
	if err != nil {
		return fmt.Errorf("wsclient: marshal payload: %w", err)
	}
	return c.Send(contracts.Envelope{
		Type:      contracts.EventChatMessage,
		RequestID: requestID,
		Data:      data,
	})
}

// SendBookingStatus sends a booking_status_update envelope.
func (c *Client) SendBookingStatus(requestID, bookingID, status string) error {
	data, err := json.Marshal(contracts.BookingStatusPayload{BookingID: bookingID, Status: status})
	if err != nil {
		return fmt.Errorf("wsclient: marshal payload: %w", err)
	}
	return c.Send(contracts.Envelope{
		Type:      contracts.EventBookingStatusUpdate,
		RequestID: requestID,
		Data:      data,
	})
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.setConnected(false)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.setConnected(false)
		close(c.events)
	}()

	for {
		var env contracts.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		if env.Type == contracts.EventPing {
			pong := contracts.Envelope{
				Type:      contracts.EventPong,
				RequestID: env.RequestID,
				Timestamp: time.Now().UnixMilli(),
			}
			c.writeMu.Lock()
			_ = c.conn.WriteJSON(pong)
			c.writeMu.Unlock()
			continue
		}

		c.mu.Lock()
		saved := env
		c.last = &saved
		c.mu.Unlock()

		select {
		case c.events <- env:
		case <-c.done:
			return
		default:
			// Consumer is not draining; drop rather than stall the pong loop.
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
