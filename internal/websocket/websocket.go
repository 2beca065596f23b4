package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a message is sent or read before Connect.
var ErrNotConnected = errors.New("websocket: not connected")

// Message represents a WebSocket message to send or receive.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Metrics captures per-connection traffic counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Client is a single WebSocket connection. Writes are serialized; a client
// is meant to be used by one request/response exchange at a time.
type Client struct {
	url            string
	headers        http.Header
	dialer         *websocket.Dialer
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64
	onClose        func(Metrics)

	mu           sync.Mutex
	conn         *websocket.Conn
	connectTime  time.Time
	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
	errors       int64
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	// OnClose, when set, receives the connection's final counters each time
	// an open connection is closed.
	OnClose func(Metrics)
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 4 << 20
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Client{
		url:            cfg.URL,
		headers:        cfg.Headers,
		dialer:         dialer,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		onClose:        cfg.OnClose,
	}
}

// Connect establishes a WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxMessageSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// SendMessage writes msg, bounded by the context deadline or WriteTimeout.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(deadline(ctx, c.writeTimeout))
	if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.errors++
		return fmt.Errorf("write message: %w", err)
	}

	c.messagesSent++
	c.bytesSent += int64(len(msg.Data))
	return nil
}

// ReceiveMessage reads the next message, bounded by the context deadline or
// ReadTimeout. A context without deadline that is cancelled mid-read
// unblocks the read by expiring the connection deadline.
func (c *Client) ReceiveMessage(ctx context.Context) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Message{}, ErrNotConnected
	}

	_ = conn.SetReadDeadline(deadline(ctx, c.readTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	msgType, data, err := conn.ReadMessage()
	stop()
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, fmt.Errorf("read message: %w", ctxErr)
		}
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(len(data))
	c.mu.Unlock()

	return Message{Type: msgType, Data: data}, nil
}

// RoundTrip sends data as a text frame and returns the first reply for which
// match reports true. Replies that do not match, such as subscription events,
// are skipped.
func (c *Client) RoundTrip(ctx context.Context, data []byte, match func([]byte) bool) ([]byte, error) {
	if err := c.SendMessage(ctx, Message{Type: websocket.TextMessage, Data: data}); err != nil {
		return nil, err
	}
	for {
		msg, err := c.ReceiveMessage(ctx)
		if err != nil {
			return nil, err
		}
		if match == nil || match(msg.Data) {
			return msg.Data, nil
		}
	}
}

// Close closes the WebSocket connection gracefully and reports its final
// counters to Config.OnClose.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	closeErr := c.conn.Close()
	c.conn = nil
	final := c.snapshot()
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(final)
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Metrics returns the current metrics snapshot.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Client) snapshot() Metrics {
	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}
	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}

// Add accumulates other into m.
func (m *Metrics) Add(other Metrics) {
	m.ConnectionDuration += other.ConnectionDuration
	m.MessagesSent += other.MessagesSent
	m.MessagesReceived += other.MessagesReceived
	m.BytesSent += other.BytesSent
	m.BytesReceived += other.BytesReceived
	m.Errors += other.Errors
}

// deadline picks the earlier of the context deadline and now+fallback.
// A zero result clears the connection deadline.
func deadline(ctx context.Context, fallback time.Duration) time.Time {
	var d time.Time
	if fallback > 0 {
		d = time.Now().Add(fallback)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
