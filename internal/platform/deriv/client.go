// Package deriv implements the broker and market data interfaces on top of
// the Deriv WebSocket API. The API is request/response over a single
// connection; responses are correlated to requests by req_id.
package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Config holds the connection parameters for the Deriv API.
type Config struct {
	WSHost         string
	AppID          string
	APIToken       string
	Currency       string
	Multiplier     int
	RequestTimeout time.Duration
	FetchRetries   int
}

// callResult carries one correlated response back to the waiting caller.
type callResult struct {
	raw []byte
	err error
}

// Client is a Deriv WebSocket API client. All outgoing requests are tagged
// with a req_id and the read loop routes each response to the caller waiting
// on that id. The client reconnects and reauthorizes transparently; calls in
// flight during a disconnect fail with ErrWSDisconnect and the caller
// retries.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	reqID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan callResult

	done chan struct{}
}

// NewClient creates a Deriv API client. Connect must be called before use.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "deriv")),
		pending: make(map[int64]chan callResult),
		done:    make(chan struct{}),
	}
}

// Connect dials the WebSocket endpoint and authorizes the session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("deriv: connect: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	url := fmt.Sprintf("%s?app_id=%s", c.cfg.WSHost, c.cfg.AppID)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("deriv: connect: %w", err)
	}

	c.conn = conn
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	if err := c.authorize(ctx); err != nil {
		return err
	}

	c.logger.Info("connected", slog.String("host", c.cfg.WSHost))
	return nil
}

// Close shuts the connection down and fails every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	c.failPending(domain.ErrWSDisconnect)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

func (c *Client) authorize(ctx context.Context) error {
	var resp authorizeResponse
	req := authorizeRequest{Authorize: c.cfg.APIToken}
	if err := c.call(ctx, &req.ReqID, &req, &resp); err != nil {
		return fmt.Errorf("deriv: authorize: %w", err)
	}
	c.logger.Info("authorized",
		slog.String("loginid", resp.Authorize.LoginID),
		slog.String("currency", resp.Authorize.Currency),
	)
	return nil
}

// call sends one request and blocks until the correlated response arrives,
// the context expires, or the connection drops. reqID points at the request
// struct's req_id field so it can be assigned before marshaling.
func (c *Client) call(ctx context.Context, reqID *int64, req, resp any) error {
	id := c.reqID.Add(1)
	*reqID = id

	ch := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrWSDisconnect
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if resp == nil {
			return nil
		}
		if err := json.Unmarshal(res.raw, resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func (c *Client) send(req any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrWSDisconnect
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads responses from one connection and routes them to pending
// calls. On a read error it fails all pending calls and kicks off
// reconnection.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("connection lost", slog.String("error", err.Error()))
			c.failPending(domain.ErrWSDisconnect)
			conn.Close()
			c.reconnect()
			return
		}
		c.route(message)
	}
}

func (c *Client) route(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.ReqID == 0 {
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[env.ReqID]
	if ok {
		delete(c.pending, env.ReqID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if env.Error != nil {
		ch <- callResult{err: env.Error}
		return
	}
	ch <- callResult{raw: raw}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- callResult{err: err}
		delete(c.pending, id)
	}
}

// pingLoop keeps one connection alive. It exits when that connection's write
// fails; the new connection gets its own loop.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// The connection allows only one concurrent writer, so pings
			// share the write lock with send.
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-establishes the session with exponential backoff. Connect
// reauthorizes, so calls made after it returns see a fully usable session.
func (c *Client) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected")
			return
		}
		c.logger.Warn("reconnect failed",
			slog.Duration("next_attempt_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
