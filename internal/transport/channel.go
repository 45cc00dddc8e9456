// Package transport carries protocol messages over websocket connections.
// Every connection is one Channel: fire-and-forget sends, correlated
// request/response calls, and a handler for everything else.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/wire"
)

// ErrClosed is returned for operations on a closed channel.
var ErrClosed = errors.New("channel closed")

// Handler receives inbound messages other than responses to this side's
// requests. It runs on the channel's reader goroutine, so long work must be
// moved to another goroutine.
type Handler func(ch *Channel, m *protocol.Message)

// Channel is one bidirectional message stream.
type Channel struct {
	id          string
	name        string
	connectedAt time.Time
	conn        *websocket.Conn
	handler     Handler
	log         *logrus.Entry

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *protocol.Response

	closeOnce sync.Once
	closed    chan struct{}
}

func newChannel(conn *websocket.Conn, name string, handler Handler, log *logrus.Entry) *Channel {
	id := uuid.New().String()
	if name == "" {
		name = id
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Channel{
		id:          id,
		name:        name,
		connectedAt: time.Now(),
		conn:        conn,
		handler:     handler,
		log:         log.WithField("channel", name),
		pending:     make(map[int64]chan *protocol.Response),
		closed:      make(chan struct{}),
	}
}

// ID is unique per connection.
func (c *Channel) ID() string { return c.id }

// Name identifies the peer, defaulting to the ID.
func (c *Channel) Name() string { return c.name }

// ConnectedAt is when the connection was established.
func (c *Channel) ConnectedAt() time.Time { return c.connectedAt }

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Send writes m without waiting for an answer.
func (c *Channel) Send(m *protocol.Message) error {
	frame, err := m.Frame()
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Channel) write(frame wire.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		return errors.Wrapf(err, "writing %s to %s", protocol.Kind(frame.Type), c.name)
	}
	return nil
}

// Request sends m, which must carry a correlation id, and waits for the
// matching Response.
func (c *Channel) Request(ctx context.Context, m *protocol.Message) (*protocol.Response, error) {
	if m.ID == 0 {
		return nil, errors.Errorf("%s message has no correlation id", m.Kind)
	}
	reply := make(chan *protocol.Response, 1)
	c.mu.Lock()
	c.pending[m.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(m); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers request m.
func (c *Channel) Reply(r *protocol.Response) error {
	return c.Send(protocol.NewResponseMessage(r))
}

// Close closes the connection. Pending requests fail with ErrClosed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// readLoop dispatches inbound frames until the connection fails or closes.
func (c *Channel) readLoop() {
	defer c.Close()
	for {
		var frame wire.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.WithError(err).Warn("connection lost")
				}
			}
			return
		}
		m, err := protocol.Decode(frame)
		if err != nil {
			c.log.WithError(err).Warn("dropping undecodable message")
			continue
		}
		if m.Kind == protocol.KindResponse {
			c.deliver(m.Response)
			continue
		}
		if c.handler != nil {
			c.handler(c, m)
		}
	}
}

func (c *Channel) deliver(r *protocol.Response) {
	c.mu.Lock()
	reply, ok := c.pending[r.RequestID]
	c.mu.Unlock()
	if !ok {
		c.log.WithField("request", r.RequestID).Debug("response for unknown request")
		return
	}
	reply <- r
}
