package transport

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NameParam is the query parameter a dialer uses to name itself.
const NameParam = "name"

// Server accepts channels on an HTTP endpoint.
type Server struct {
	upgrader     websocket.Upgrader
	handler      Handler
	onConnect    func(*Channel)
	onDisconnect func(*Channel)
	log          *logrus.Entry
}

// NewServer creates a Server dispatching inbound messages to handler.
func NewServer(handler Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
		handler: handler,
		log:     log,
	}
}

// OnConnect registers a callback run for each accepted channel before any
// message is read from it.
func (s *Server) OnConnect(fn func(*Channel)) { s.onConnect = fn }

// OnDisconnect registers a callback run when a channel closes.
func (s *Server) OnDisconnect(fn func(*Channel)) { s.onDisconnect = fn }

// ServeHTTP upgrades the request and serves the channel until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ch := newChannel(conn, r.URL.Query().Get(NameParam), s.handler, s.log)
	ch.log.WithField("remote", r.RemoteAddr).Info("channel opened")
	if s.onConnect != nil {
		s.onConnect(ch)
	}
	ch.readLoop()
	if s.onDisconnect != nil {
		s.onDisconnect(ch)
	}
	ch.log.Info("channel closed")
}

// Dial opens a channel to a Server at addr (a ws:// URL), naming this side name.
func Dial(ctx context.Context, addr, name string, handler Handler, log *logrus.Entry) (*Channel, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing address %q", addr)
	}
	if name != "" {
		q := u.Query()
		q.Set(NameParam, name)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	ch := newChannel(conn, name, handler, log)
	go ch.readLoop()
	return ch, nil
}
