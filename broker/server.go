// Package broker is a simulated HODCP core. It serves a configuration, a set
// of nodes with properties and a filtered sqlite log over the same websocket
// protocol the real core speaks, so a panel can be run and tested without
// the platform.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	weblink "github.com/duke1swd/weblinkGo/library"
)

// Categories the core files its own log rows under.
const (
	categoryCore    = "Core.session"
	categoryNodeSet = "Node.set"
)

// Server answers panel sessions. It implements http.Handler.
type Server struct {
	config   weblink.Configuration
	nodes    map[string]*node
	store    *LogStore
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one websocket connection. Each keeps its own log filter.
type session struct {
	id   string
	conn *websocket.Conn

	wmu    sync.Mutex
	filter weblink.LogFilter
}

func NewServer(topo Topology, store *LogStore, log zerolog.Logger) *Server {
	s := &Server{
		config: weblink.Configuration{
			Description: topo.Description,
			NodeConfig:  make(map[string]json.RawMessage),
		},
		nodes: make(map[string]*node),
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{weblink.DefaultSubprotocol},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:      log.With().Str("component", "broker").Logger(),
		sessions: make(map[string]*session),
	}

	for _, n := range topo.Nodes {
		s.nodes[n.URN] = newNode(n.URN, n.Class, n.Properties)
		s.config.Nodes = append(s.config.Nodes, n.URN)

		cfg, _ := json.Marshal(map[string]string{"class": n.Class})
		s.config.NodeConfig[n.URN] = cfg
	}

	s.nodes[weblink.BackplaneURN] = newNode(weblink.BackplaneURN, "Backplane", topo.Backplane)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}

	sess := &session{id: uuid.NewString(), conn: conn}
	log := s.log.With().Str("session", sess.id).Logger()

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()

		conn.Close()
		log.Info().Msg("Session closed")
	}()

	ctx := context.WithoutCancel(r.Context())

	log.Info().Str("remote", r.RemoteAddr).Str("subprotocol", conn.Subprotocol()).Msg("Session opened")
	s.appendLog(ctx, weblink.CoreURN, categoryCore, "Panel connected from "+r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Read failed")
			}

			return
		}

		var m weblink.Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		if err := s.handle(ctx, sess, m); err != nil {
			log.Warn().Err(err).Str("dest", m.Dest).Str("key", m.Key).Msg("Request failed")
		}
	}
}

// Close ends every open session.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		sess.wmu.Lock()
		sess.conn.Close()
		sess.wmu.Unlock()
	}
}

func (s *Server) handle(ctx context.Context, sess *session, m weblink.Message) error {
	if m.Dest == weblink.CoreURN {
		return s.handleCore(ctx, sess, m)
	}

	n, ok := s.nodes[m.Dest]
	if !ok {
		return fmt.Errorf("%w: %s", weblink.ErrUnknownNode, m.Dest)
	}

	switch m.Action {
	case weblink.ActionGet:
		if m.Key == weblink.KeyCapabilities {
			return s.reply(sess, m, n.capabilities())
		}

		v, ok := n.get(m.Key)
		if !ok {
			return fmt.Errorf("%w: %s has no property %q", weblink.ErrUnknownProperty, n.urn, m.Key)
		}

		return s.reply(sess, m, v)

	case weblink.ActionSet:
		v, err := n.set(m.Key, m.Value)
		if err != nil {
			return err
		}

		if n.logging() || m.Key == loggingProperty {
			s.appendLog(ctx, n.urn, categoryNodeSet, fmt.Sprintf("%s = %s (from %s)", m.Key, v, m.Sender))
		}

		return nil
	}

	return fmt.Errorf("%w: action %q", weblink.ErrMalformed, m.Action)
}

func (s *Server) handleCore(ctx context.Context, sess *session, m weblink.Message) error {
	switch {
	case m.Action == weblink.ActionGet && m.Key == weblink.KeyConfig:
		return s.reply(sess, m, s.config)

	case m.Action == weblink.ActionSet && m.Key == weblink.KeyLog:
		var msg string
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			return fmt.Errorf("%w: log value: %v", weblink.ErrMalformed, err)
		}

		return s.store.Append(ctx, m.Sender, "", msg)

	case m.Action == weblink.ActionSet && m.Key == weblink.KeyLogFilter:
		f, err := weblink.ParseLogFilter(m.Value)
		if err != nil {
			return err
		}

		sess.wmu.Lock()
		sess.filter = f
		sess.wmu.Unlock()

		return nil

	case m.Action == weblink.ActionGet && m.Key == weblink.KeyLog:
		sess.wmu.Lock()
		f := sess.filter
		sess.wmu.Unlock()

		rows, err := s.store.Query(ctx, f)
		if err != nil {
			return err
		}

		return s.reply(sess, m, rows)
	}

	return fmt.Errorf("%w: core does not handle %s %q", weblink.ErrMalformed, m.Action, m.Key)
}

// reply answers m on behalf of its destination.
func (s *Server) reply(sess *session, m weblink.Message, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Key, err)
	}

	out := weblink.Message{
		Dest:   m.Sender,
		Sender: m.Dest,
		Action: weblink.ActionSet,
		Key:    m.Key,
		Value:  raw,
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	sess.wmu.Lock()
	defer sess.wmu.Unlock()

	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Join(weblink.ErrNotConnected, err)
	}

	return nil
}

func (s *Server) appendLog(ctx context.Context, urn, category, msg string) {
	if err := s.store.Append(ctx, urn, category, msg); err != nil {
		s.log.Error().Err(err).Msg("Log store write failed")
	}
}
