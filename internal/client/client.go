// Package client is a reconnecting WebSocket client for the relay protocol.
//
// A Client keeps one logical connection open. When the connection drops
// without the application asking for it, the client dials again after an
// exponential delay of 1, 2, 4 ... units capped at 30 units, and the delay
// starts over after every successful connect. Authenticating and joining
// rooms again after a reconnect is left to the OnConnect hook.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("client: not connected")

const (
	defaultBackoffUnit = time.Second
	maxBackoffUnits    = 30
	writeWait          = 10 * time.Second
)

// Client maintains a connection to a relay and dispatches the frames it
// receives.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff *backoff.ExponentialBackOff
	logger  zerolog.Logger
	log     *MessageLog
	sleep   func(ctx context.Context, d time.Duration) error

	onConnect func(ctx context.Context, c *Client) error
	onFrame   func(env protocol.Envelope)
	onMessage func(roomID int64, m protocol.ChatMessage)

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closing bool

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHeader sets headers sent with every handshake, such as Origin.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoffUnit sets the base reconnect delay. The default is one second.
func WithBackoffUnit(unit time.Duration) Option {
	return func(c *Client) { c.backoff = newReconnectBackoff(unit) }
}

// OnConnect registers a hook that runs after every successful dial, before
// frames are read. It is where the application authenticates and joins.
func OnConnect(fn func(ctx context.Context, c *Client) error) Option {
	return func(c *Client) { c.onConnect = fn }
}

// OnFrame registers a callback for every frame other than chat messages.
func OnFrame(fn func(env protocol.Envelope)) Option {
	return func(c *Client) { c.onFrame = fn }
}

// OnMessage registers a callback for chat messages not seen before.
func OnMessage(fn func(roomID int64, m protocol.ChatMessage)) Option {
	return func(c *Client) { c.onMessage = fn }
}

// New creates a Client for the relay at url (for example
// ws://localhost:3001/ws). Call Run to connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		backoff: newReconnectBackoff(defaultBackoffUnit),
		logger:  zerolog.Nop(),
		log:     NewMessageLog(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newReconnectBackoff(unit time.Duration) *backoff.ExponentialBackOff {
	if unit <= 0 {
		unit = defaultBackoffUnit
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = unit
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoffUnits * unit
	b.Reset()
	return b
}

// Messages returns the de-duplicated log of received chat messages.
func (c *Client) Messages() *MessageLog {
	return c.log
}

// Run connects and keeps reconnecting until ctx is canceled or Close is
// called. It returns nil after Close and ctx.Err() after cancellation.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	for {
		err := c.connectOnce(ctx)
		if stop, runErr := c.stopped(ctx); stop {
			return runErr
		}

		delay := c.backoff.NextBackOff()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Connection lost; reconnecting")

		if c.sleep(ctx, delay) != nil {
			_, runErr := c.stopped(ctx)
			return runErr
		}
	}
}

func (c *Client) stopped(ctx context.Context) (bool, error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}
	return false, nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.backoff.Reset()
	c.setConn(conn)
	defer c.setConn(nil)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	c.logger.Info().Str("url", c.url).Msg("Connected")

	if c.onConnect != nil {
		if err := c.onConnect(ctx, c); err != nil {
			return fmt.Errorf("on connect: %w", err)
		}
	}

	return c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring malformed server frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	if env.Type != protocol.TypeMessage {
		if c.onFrame != nil {
			c.onFrame(env)
		}
		return
	}

	var event protocol.MessageEvent
	if err := json.Unmarshal(env.Raw, &event); err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring malformed message frame")
		return
	}
	if !c.log.Add(event.RoomID, event.Message) {
		return
	}
	if c.onMessage != nil {
		c.onMessage(event.RoomID, event.Message)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close ends the connection without reconnecting. Run returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// Send writes one frame as JSON.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
