package httpapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"roomsync/internal/provider"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	reconnectBase = 2 * time.Second
	reconnectMax  = 1 * time.Minute
)

// stream maintains the websocket connection carrying the provider's auth
// change events and feeds them into the client's handler registry.
type stream struct {
	client *Client
	url    string
	logger *zap.Logger
}

// Connect starts the change stream with automatic reconnects until ctx is
// done. It returns an error only when the stream URL cannot be derived.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := streamURL(c.cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return nil
	}
	s := &stream{client: c, url: wsURL, logger: c.logger}
	c.stream = s
	c.mu.Unlock()

	go s.run(ctx)
	return nil
}

func streamURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1"
	q := u.Query()
	q.Set("apikey", cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *stream) run(ctx context.Context) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("auth stream dial failed, retrying",
				zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectBase
		s.logger.Info("auth stream connected")
		s.readPump(ctx, conn)
	}
}

func (s *stream) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("auth stream closed, reconnecting", zap.Error(err))
			}
			return
		}

		var ev provider.AuthEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("discarding unreadable auth stream message", zap.Error(err))
			continue
		}
		s.apply(ev)
	}
}

func (s *stream) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// apply updates the client's held remote session, then notifies handlers.
func (s *stream) apply(ev provider.AuthEvent) {
	c := s.client
	c.mu.Lock()
	switch ev.Type {
	case provider.EventSignedIn, provider.EventTokenRefreshed:
		if ev.Session != nil {
			c.session = ev.Session
		}
	case provider.EventSignedOut:
		c.session = nil
	}
	c.mu.Unlock()

	c.dispatch(ev)
}
