package chatclient

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saeid-a/CoachChat/internal/wire"
)

// ConnState is the connection manager's lifecycle state.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnFailed       ConnState = "failed"
)

const (
	// maxReconnectAttempts bounds automatic retries after the initial dial
	// or a connection loss. Exhaustion is terminal until an explicit
	// Connect call, typically triggered by re-authentication.
	maxReconnectAttempts = 3
	reconnectDelay       = time.Second

	frameBuffer = 64
)

// Conn is the subset of a websocket connection the manager needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens one connection attempt. The default implementation wraps
// gorilla's dialer; tests substitute failures.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnManager owns the single live, authenticated connection for a user
// session. No other component may open or close the underlying handle;
// dependents consume the per-event-type channels and Send.
type ConnManager struct {
	rawURL     string
	dialer     Dialer
	retryDelay time.Duration

	mu    sync.Mutex
	state ConnState
	conn  Conn
	token string
	// gen invalidates read loops and retry loops that belong to a
	// superseded or torn-down connection.
	gen int

	messages chan wire.Frame
	typing   chan wire.Frame
	receipts chan wire.Frame
	presence chan wire.Frame
	errs     chan wire.Frame
}

func NewConnManager(rawURL string) *ConnManager {
	return &ConnManager{
		rawURL:     rawURL,
		dialer:     gorillaDialer{},
		retryDelay: reconnectDelay,
		state:      ConnDisconnected,
		messages:   make(chan wire.Frame, frameBuffer),
		typing:     make(chan wire.Frame, frameBuffer),
		receipts:   make(chan wire.Frame, frameBuffer),
		presence:   make(chan wire.Frame, frameBuffer),
		errs:       make(chan wire.Frame, frameBuffer),
	}
}

// Connect returns immediately; the connection establishes asynchronously.
// While a handle is live or establishing the call is idempotent.
func (m *ConnManager) Connect(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case ConnConnected, ConnConnecting, ConnReconnecting:
		return
	}

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.token = token
	m.state = ConnConnecting
	go m.establish(m.gen, token, true)
}

// Disconnect releases the handle. Idempotent when already disconnected.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = ConnDisconnected
}

func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes a frame on the live connection. It fails fast when the
// connection is not established; callers that treat delivery as
// best-effort check for ErrNotConnected and drop silently.
func (m *ConnManager) Send(frame wire.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ConnFailed {
		return ErrRetriesExhausted
	}
	if m.state != ConnConnected || m.conn == nil {
		return ErrNotConnected
	}
	return m.conn.WriteJSON(frame)
}

func (m *ConnManager) Messages() <-chan wire.Frame { return m.messages }
func (m *ConnManager) Typing() <-chan wire.Frame   { return m.typing }
func (m *ConnManager) Receipts() <-chan wire.Frame { return m.receipts }
func (m *ConnManager) Presence() <-chan wire.Frame { return m.presence }
func (m *ConnManager) Errors() <-chan wire.Frame   { return m.errs }

// establish runs the bounded dial loop: the explicit connect attempt when
// initial, then up to maxReconnectAttempts retries with a fixed delay.
func (m *ConnManager) establish(gen int, token string, initial bool) {
	attempts := maxReconnectAttempts
	if initial {
		attempts++
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if !initial || attempt > 0 {
			time.Sleep(m.retryDelay)
		}

		conn, err := m.dial(token)
		if err == nil {
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				_ = conn.Close()
				return
			}
			m.conn = conn
			m.state = ConnConnected
			m.mu.Unlock()
			go m.readLoop(gen, conn)
			return
		}
		lastErr = err

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.state = ConnReconnecting
		m.mu.Unlock()
		log.Printf("chat socket dial: %v", err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = ConnFailed
	m.mu.Unlock()
	m.pushError(fmt.Sprintf("connection failed after %d attempts: %v", attempts, lastErr))
}

func (m *ConnManager) dial(token string) (Conn, error) {
	u, err := url.Parse(m.rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	query := u.Query()
	query.Set("token", token)
	u.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.dialer.Dial(ctx, u.String(), nil)
}

func (m *ConnManager) readLoop(gen int, conn Conn) {
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			m.handleLoss(gen, err)
			return
		}
		m.dispatch(frame)
	}
}

// handleLoss reacts to a dropped connection by retrying under the bounded
// policy. Deliberate disconnects bump gen first, so they land here with a
// stale gen and do nothing.
func (m *ConnManager) handleLoss(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = ConnReconnecting
	m.gen++
	nextGen := m.gen
	token := m.token
	m.mu.Unlock()

	log.Printf("chat socket lost: %v", err)
	go m.establish(nextGen, token, false)
}

// dispatch fans each inbound frame onto the channel owned by exactly one
// consuming component. A full channel drops the frame rather than stall
// the read loop; server error frames never trigger a reconnect.
func (m *ConnManager) dispatch(frame wire.Frame) {
	var ch chan wire.Frame
	switch frame.Type {
	case wire.TypeMessage:
		ch = m.messages
	case wire.TypeTyping:
		ch = m.typing
	case wire.TypeRead:
		ch = m.receipts
	case wire.TypeStatus:
		ch = m.presence
	case wire.TypeError:
		ch = m.errs
	default:
		log.Printf("chat socket: unknown frame type %q", frame.Type)
		return
	}

	select {
	case ch <- frame:
	default:
		log.Printf("chat socket: dropping %s frame, consumer is behind", frame.Type)
	}
}

func (m *ConnManager) pushError(message string) {
	select {
	case m.errs <- wire.Frame{Type: wire.TypeError, Message: message}:
	default:
	}
}
