// Package wschan carries push-channel envelopes over a websocket connection
// to the pipeline's event server.
package wschan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"riskdash/internal/channel"
	"riskdash/internal/logger"
	"riskdash/internal/transform/payload"
	"riskdash/pkg/models"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("websocket not connected")

const writeTimeout = 10 * time.Second

// Config configures the websocket transport.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// Channel is a websocket client that reconnects with a fixed delay.
type Channel struct {
	*channel.Router
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// New validates cfg and creates an unconnected channel.
func New(cfg Config) (*Channel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url must use ws or wss: %s", cfg.URL)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		Router:         channel.NewRouter(),
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		dialer:         &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Connected reports whether a connection is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a connection open and dispatches inbound envelopes until ctx is
// done.
func (c *Channel) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("Websocket dial %s failed: %v", c.url, err)
		} else {
			logger.Infof("Websocket connected to %s", c.url)
			c.serve(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("Websocket disconnected, retrying in %s", c.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.mu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger.Warnf("Websocket read error: %v", err)
			}
			return
		}
		if err := c.Dispatch(data); err != nil {
			logger.Warnf("Skipping websocket message: %v", err)
		}
	}
}

// Emit writes an outbound envelope on the current connection.
func (c *Channel) Emit(ctx context.Context, kind models.Kind, body interface{}) error {
	env, err := payload.EncodeEnvelope(kind, body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, env); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}
