package weblink

//
// This file contains the websocket link to the broker.
//

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultSubprotocol is what the broker expects, although frames are JSON.
const DefaultSubprotocol = "base64"

type LinkOptions struct {
	URL         string
	Subprotocol string
	Identity    Identity
	DialTimeout time.Duration
	Header      http.Header
	Logger      zerolog.Logger
}

// Link owns the single connection to the broker. A link connects once;
// when the connection closes it stays closed.
type Link struct {
	opts LinkOptions
	log  zerolog.Logger

	mu     sync.Mutex // guards conn, used and writes
	conn   *websocket.Conn
	used   bool
	recvMu sync.RWMutex
	recv   func(Message)
	done   chan struct{}
}

func NewLink(opts LinkOptions) *Link {
	if opts.Subprotocol == "" {
		opts.Subprotocol = DefaultSubprotocol
	}

	if opts.Identity == (Identity{}) {
		opts.Identity = DefaultIdentity()
	}

	return &Link{
		opts: opts,
		log:  opts.Logger.With().Str("component", "link").Str("url", opts.URL).Logger(),
		done: make(chan struct{}),
	}
}

// Register sets the receive callback, replacing any earlier one. It is
// called on the link's reader goroutine, once per frame.
func (l *Link) Register(recv func(Message)) {
	l.recvMu.Lock()
	l.recv = recv
	l.recvMu.Unlock()
}

// Connect dials the broker and, once the connection is open, asks the core
// for its configuration.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.used {
		l.mu.Unlock()
		return &ConnectionError{Op: "connect", URL: l.opts.URL, Err: errors.New("link already used")}
	}
	l.used = true
	l.mu.Unlock()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: l.opts.DialTimeout,
		Subprotocols:     []string{l.opts.Subprotocol},
	}

	conn, resp, err := dialer.DialContext(ctx, l.opts.URL, l.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			l.log.Error().Str("status", resp.Status).Msg("Broker refused the connection")
		}
		close(l.done)

		return &ConnectionError{Op: "dial", URL: l.opts.URL, Err: err}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.log.Info().Str("subprotocol", conn.Subprotocol()).Msg("Link open")

	go l.readLoop(conn)

	return l.Send(l.opts.Identity.Get(l.opts.Identity.Core, KeyConfig))
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.log.Warn().Err(err).Msg("Link read failed")
			}
			l.log.Info().Msg("Link closed")

			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			l.log.Warn().Err(&ProtocolError{Err: err}).Int("bytes", len(data)).Msg("Dropping frame")
			continue
		}

		l.recvMu.RLock()
		recv := l.recv
		l.recvMu.RUnlock()

		if recv != nil {
			recv(m)
		}
	}
}

// Send writes m as one text frame. Without an open connection the message
// is dropped and a ConnectionError returned; nothing is queued.
func (l *Link) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		err := &ConnectionError{Op: "send", URL: l.opts.URL, Err: ErrNotConnected}
		l.log.Warn().Err(err).Stringer("message", m).Msg("Dropping message")

		return err
	}

	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.log.Warn().Err(err).Stringer("message", m).Msg("Send failed")
		return &ConnectionError{Op: "send", URL: l.opts.URL, Err: err}
	}

	return nil
}

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.conn != nil
}

// Done is closed when the connection is gone, or was never made.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close sends a close frame and shuts the connection.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		l.log.Debug().Err(err).Msg("Close frame not sent")
	}

	return conn.Close()
}
