package wire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

var (
	ErrNotConnected = errors.New("wire: not connected")
	ErrHandshake    = errors.New("wire: handshake failed")
)

// Options configures the transport.
type Options struct {
	URL            string
	ClientID       int64
	DialTimeout    time.Duration
	MaxDialBackoff time.Duration
	// RequestsPerSecond throttles outbound sends; brokers disconnect clients
	// that burst. 0 disables pacing.
	RequestsPerSecond float64
}

// Client owns the websocket connection to the broker endpoint. One Client maps
// to one protocol session; all per-session request ids come from here.
type Client struct {
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	limiter       *rate.Limiter
	ready         atomic.Bool
	serverVersion atomic.Int64
	connTime      atomic.Value // string
	accounts      atomic.Value // []string
	reqID         atomic.Int64
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MaxDialBackoff <= 0 {
		opts.MaxDialBackoff = 5 * time.Second
	}
	c := &Client{opts: opts, log: log}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond))
	}
	return c
}

// Connect dials the endpoint and performs the session handshake. Dial attempts
// are retried with exponential backoff until ctx expires.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = c.opts.MaxDialBackoff

	var conn *websocket.Conn
	for {
		var err error
		conn, _, err = websocket.Dial(dialCtx, c.opts.URL, nil)
		if err == nil {
			break
		}
		sleep := backoffCfg.NextBackOff()
		c.log.Warn("wire dial failed", zap.Error(err), zap.Duration("retry_in", sleep))
		select {
		case <-dialCtx.Done():
			return dialCtx.Err()
		case <-time.After(sleep):
		}
	}

	if err := c.handshake(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.ready.Store(true)
	c.log.Info("wire connected",
		zap.Int64("serverVersion", c.serverVersion.Load()),
		zap.Strings("accounts", c.Accounts()))
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	if err := write(ctx, conn, Request{Op: OpAuth, Data: Auth{ClientID: c.opts.ClientID}}); err != nil {
		return err
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	if frame.Type != FrameHello {
		return ErrHandshake
	}
	var hello Hello
	if err := frame.Decode(&hello); err != nil {
		return err
	}
	c.serverVersion.Store(int64(hello.ServerVersion))
	c.connTime.Store(hello.ConnectionTime)
	c.accounts.Store(append([]string(nil), hello.Accounts...))
	// never reuse ids across reconnects of the same process
	if next := hello.NextReqID; next > c.reqID.Load() {
		c.reqID.Store(next)
	}
	return nil
}

// Run reads frames until the connection dies or ctx is cancelled. The handler
// is invoked on the read goroutine in strict arrival order; it is the single
// decode context of the session and must not block.
func (c *Client) Run(ctx context.Context, handler func(Frame)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	defer c.ready.Store(false)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logReadError(err)
			return err
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("wire frame decode failed", zap.Error(err))
			continue
		}
		if handler != nil {
			handler(frame)
		}
	}
}

// Send encodes and writes one request, paced by the session rate limit.
func (c *Client) Send(ctx context.Context, req Request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return write(ctx, conn, req)
}

// NextReqID issues the next request key. Ids are unique and strictly
// increasing within a session.
func (c *Client) NextReqID() int64 {
	return c.reqID.Add(1)
}

// IsConnected reports whether a socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// IsReady reports whether the session survived the handshake and the read
// loop has not failed.
func (c *Client) IsReady() bool {
	return c.ready.Load() && c.IsConnected()
}

// ServerVersion returns the negotiated protocol version.
func (c *Client) ServerVersion() int {
	return int(c.serverVersion.Load())
}

// ConnectionTime returns the server-reported session start time.
func (c *Client) ConnectionTime() string {
	s, _ := c.connTime.Load().(string)
	return s
}

// Accounts returns the accounts announced in the handshake.
func (c *Client) Accounts() []string {
	accs, _ := c.accounts.Load().([]string)
	return accs
}

// ClientID returns the id this session authenticated with.
func (c *Client) ClientID() int64 {
	return c.opts.ClientID
}

// Disconnect closes the socket. In-flight server-side work is not cancelled.
func (c *Client) Disconnect() error {
	c.ready.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "disconnect")
	c.conn = nil
	return err
}

func (c *Client) logReadError(err error) {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.log.Info("wire read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("wire read loop ended", zap.Error(err))
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
