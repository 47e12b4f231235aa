// Package signaling implements the per-connection SignalChannel: a bounded
// outbound queue drained by a single writer goroutine, and a text-frame-only
// reader that turns malformed JSON into a fatal error.
package signaling

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/errs"
	"github.com/huddlertc/sfu/internals/metrics"
)

const (
	sendQueueSize = 4
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = (pongTimeout * 9) / 10
)

// Transport is the subset of *websocket.Conn the channel needs. Tests supply
// an in-memory fake; production code passes a real *websocket.Conn, which
// satisfies this interface as-is.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Channel is the SignalChannel: one per connected peer.
type Channel struct {
	conn    Transport
	send    chan ServerMessage
	done    chan struct{}
	traceID string
	logger  *zap.Logger
}

// NewChannel wraps conn and starts its writer goroutine. Close must be
// called to release the writer goroutine and the underlying transport.
func NewChannel(conn Transport, logger *zap.Logger) *Channel {
	c := &Channel{
		conn:    conn,
		send:    make(chan ServerMessage, sendQueueSize),
		done:    make(chan struct{}),
		traceID: uuid.New().String(),
		logger:  logger,
	}
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go c.runWriter()
	return c
}

// TraceID identifies this connection in logs; it plays no role in room
// routing.
func (c *Channel) TraceID() string { return c.traceID }

// Send enqueues msg for delivery, blocking if the bounded queue is full.
// Messages are delivered to the transport in the order Send returns, which
// is the ordering guarantee the rest of the system relies on.
func (c *Channel) Send(msg ServerMessage) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errs.Transport(io.ErrClosedPipe)
	}
}

func (c *Channel) runWriter() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("failed to encode outbound message", zap.Error(err), zap.String("trace", c.traceID))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing channel", zap.Error(err), zap.String("trace", c.traceID))
				return
			}
			metrics.MessagesSentTotal.Inc()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Recv blocks for the next inbound peer message, skipping any non-text
// frame. It returns an error once the transport closes or a text frame
// fails to parse as a PeerMessage.
func (c *Channel) Recv() (PeerMessage, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return PeerMessage{}, errs.Transport(err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		msg, err := ParsePeerMessage(data)
		if err != nil {
			return PeerMessage{}, errs.Serialization(err)
		}
		metrics.MessagesReceivedTotal.Inc()
		return msg, nil
	}
}

// Close stops the writer goroutine and closes the underlying transport.
// Safe to call more than once.
func (c *Channel) Close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}
