// Package stream owns the streaming transport: one websocket connection
// with a reconnect/backoff state machine, and the coordinator that keeps
// live subscriptions converged on the desired symbol set.
package stream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/internal/market"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	GivenUp
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GivenUp:
		return "given-up"
	default:
		return "disconnected"
	}
}

// Op is a subscription control action.
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

type Config struct {
	URL string
	// BaseDelay is the first reconnect delay; it doubles per consecutive
	// failure up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts is how many consecutive reconnect attempts are made
	// before giving up. Giving up leaves the process in a degraded,
	// polling-only mode; it does not crash anything.
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): base
// doubled per attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Conn manages one streaming connection. Transport errors trigger the
// reconnect state machine; Disconnect is caller-initiated and terminal for
// the session (no auto-reconnect afterwards).
type Conn struct {
	cfg     Config
	onTick  func(market.Tick)
	onState func(State)

	mu     sync.Mutex
	ws     *websocket.Conn
	state  State
	done   chan struct{}
	closed bool
}

func New(cfg Config, onTick func(market.Tick), onState func(State)) *Conn {
	cfg.withDefaults()
	return &Conn{cfg: cfg, onTick: onTick, onState: onState, state: Disconnected}
}

// Connect dials the transport and starts the read loop. A failed initial
// dial still arms the reconnect machinery; the error is returned so the
// caller knows the first attempt did not go through. Reconnecting counts as
// an active session: the armed reconnect loop owns the done channel and a
// second session must not be stacked on top of it.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.state == Connected || c.state == Connecting || c.state == Reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.setState(Connecting)

	ws, err := c.dial()
	if err != nil {
		go c.reconnect(done)
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	c.adopt(ws, done)
	return nil
}

// Disconnect closes the session. Pending reconnect timers are suppressed
// and no reconnection happens until Connect is called again.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.done != nil {
		close(c.done)
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()
	c.setState(Disconnected)
}

// Send writes one subscribe/unsubscribe control message. It returns false
// when the connection is not live; the caller queues and retries, this
// layer does not buffer outbound intents.
func (c *Conn) Send(op Op, symbols []string) bool {
	if len(symbols) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.ws == nil {
		return false
	}
	msg := struct {
		Action  string   `json:"action"`
		Symbols []string `json:"symbols"`
	}{Action: string(op), Symbols: symbols}
	if err := c.ws.WriteJSON(msg); err != nil {
		log.Printf("stream: send %s failed: %v", op, err)
		return false
	}
	return true
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, _, err := dialer.Dial(c.cfg.URL, nil)
	return ws, err
}

// adopt installs a freshly dialed transport and starts its read loop.
func (c *Conn) adopt(ws *websocket.Conn, done chan struct{}) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(Connected)
	go c.readLoop(ws, done)
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return // caller-initiated close
			default:
			}
			log.Printf("stream: transport error: %v", err)
			c.reconnect(done)
			return
		}
		tick, perr := market.ParseTick(raw)
		if perr != nil {
			log.Printf("stream: dropping message: %v", perr)
			continue
		}
		if c.onTick != nil {
			c.onTick(tick)
		}
	}
}

// reconnect retries the dial with exponential backoff until it succeeds,
// the attempt limit is hit, or the session is closed.
func (c *Conn) reconnect(done chan struct{}) {
	for attempt := 1; ; attempt++ {
		if attempt > c.cfg.MaxAttempts {
			log.Printf("stream: giving up after %d attempts", c.cfg.MaxAttempts)
			c.setState(GivenUp)
			return
		}
		c.setState(Reconnecting)

		delay := Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.setState(Connecting)
		ws, err := c.dial()
		if err != nil {
			log.Printf("stream: reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)
			continue
		}
		// success resets the attempt counter; the next outage starts over
		c.adopt(ws, done)
		return
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
