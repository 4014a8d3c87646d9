package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var ErrUnauthorized = errors.New("gateway rejected credentials")

type SocketOptions struct {
	MaxTries       uint
	MaxElapsed     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteWait      time.Duration
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.MaxTries == 0 {
		o.MaxTries = 8
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = 2 * time.Minute
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Socket is the client end of the gateway connection. Start returns at once;
// dialing and reconnecting happen in the background with bounded backoff.
type Socket struct {
	url    string
	opts   SocketOptions
	dialer *websocket.Dialer

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}

	onFrame   func(models.Frame)
	onConnect func(reconnected bool)
}

// NewSocket builds a socket for the gateway at serverURL (http or ws scheme).
func NewSocket(serverURL, token, userID string, opts SocketOptions) (*Socket, error) {
	if token == "" || userID == "" {
		return nil, fmt.Errorf("%w: token and user id are required", ErrUnauthorized)
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	return &Socket{
		url:    u.String(),
		opts:   opts.withDefaults(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// OnFrame sets the handler for inbound frames. It runs on the read goroutine.
func (s *Socket) OnFrame(fn func(models.Frame)) { s.onFrame = fn }

// OnConnect runs after each successful dial.
func (s *Socket) OnConnect(fn func(reconnected bool)) { s.onConnect = fn }

func (s *Socket) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

func (s *Socket) run(ctx context.Context) {
	reconnected := false
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Giving up on gateway connection: %v", err)
			}
			return
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		logger.Info("Connected to gateway")
		if s.onConnect != nil {
			s.onConnect(reconnected)
		}

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Warn("Gateway connection lost, reconnecting")
		reconnected = true
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, backoff.Permanent(ErrUnauthorized)
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxTries),
		backoff.WithMaxElapsedTime(s.opts.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("Gateway dial failed, retrying in %s: %v", wait, err)
		}),
	)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Gateway read error: %v", err)
			}
			return
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Emit writes one event. It fails with ErrNotConnected while disconnected.
func (s *Socket) Emit(event string, payload interface{}) error {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	return conn.WriteJSON(frame)
}

// Close stops reconnecting and closes the connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	cancel, conn, done := s.cancel, s.conn, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
