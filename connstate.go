package dbus

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/corebus/dbus/health"
	"github.com/corebus/dbus/reconnect"
)

var errCircuitOpen = errors.New("dbus: reconnection circuit breaker is open")

// ConnState is a Conn's position in its connection lifecycle. It is
// updated under the Conn's mutex by connection setup, by the read
// loop and its reconnection logic, and by Close.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Authenticating
	AwaitingName
	Connected
	Reconnecting
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case AwaitingName:
		return "AWAITING_NAME"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notifyStateChange(s)
}

func (c *Conn) notifyStateChange(s ConnState) {
	c.mu.Lock()
	ch := c.stateCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- s:
	default:
		// Slow or absent reader: state changes are advisory, never
		// allowed to block the transport goroutine. Replace the
		// unread value so the reader sees the latest state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// StateChanges returns a channel that receives every state transition
// the connection makes. The channel is unbuffered past one pending
// value; a slow reader misses intermediate states but always sees the
// latest.
func (c *Conn) StateChanges() <-chan ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateCh == nil {
		c.stateCh = make(chan ConnState, 1)
	}
	return c.stateCh
}

// connOptions holds the resolved effect of a ConnOption chain.
type connOptions struct {
	autoReconnect   bool
	reconnectPolicy reconnect.Policy
	breaker         *reconnect.Breaker
	healthCheck     bool
	healthInterval  time.Duration
	healthTimeout   time.Duration
}

func defaultConnOptions() connOptions {
	return connOptions{
		reconnectPolicy: reconnect.DefaultPolicy(),
	}
}

// ConnOption customizes the behavior of [SystemBus]/[SessionBus].
type ConnOption func(*connOptions)

// WithAutoReconnect enables automatic reconnection with the given
// backoff policy when the transport goes down unexpectedly. The zero
// Policy is replaced with [reconnect.DefaultPolicy].
func WithAutoReconnect(policy reconnect.Policy) ConnOption {
	return func(o *connOptions) {
		o.autoReconnect = true
		if policy.BaseDelay > 0 {
			o.reconnectPolicy = policy
		}
	}
}

// WithCircuitBreaker fronts the reconnection retry loop with a
// circuit breaker: after failureThreshold consecutive failed connect
// attempts it stops trying for recoveryTimeout, then allows one trial
// attempt at a time until successThreshold consecutive attempts
// succeed. Has no effect unless [WithAutoReconnect] is also set.
func WithCircuitBreaker(failureThreshold, successThreshold int, recoveryTimeout time.Duration) ConnOption {
	return func(o *connOptions) {
		o.breaker = &reconnect.Breaker{
			FailureThreshold: failureThreshold,
			SuccessThreshold: successThreshold,
			RecoveryTimeout:  recoveryTimeout,
		}
	}
}

// WithHealthCheck enables a periodic Peer.Ping liveness probe. A
// connection that fails three consecutive probes is closed (which
// triggers reconnection if [WithAutoReconnect] is also set).
func WithHealthCheck(interval, timeout time.Duration) ConnOption {
	return func(o *connOptions) {
		o.healthCheck = true
		o.healthInterval = interval
		o.healthTimeout = timeout
	}
}

func (c *Conn) startHealthMonitor() {
	c.health = &health.Monitor{
		Interval:         c.opts.healthInterval,
		Timeout:          c.opts.healthTimeout,
		FailureThreshold: 3,
		OnUnhealthy: func(err error) {
			log.Printf("dbus: connection unhealthy, closing: %v", err)
			// Close (and its health.Stop()) must not run on this
			// monitor's own probe goroutine: Stop waits for this
			// goroutine to return, which it can't do while running
			// this callback.
			go c.Close()
		},
	}
	c.health.Start(context.Background(), c.Peer(ifaceBus))
}

// handleDisconnect runs when the read loop exits because of a
// transport error rather than an explicit Close. It fails every
// pending call and, if auto-reconnection is enabled, hands off to the
// reconnection loop; otherwise it tears the connection down.
func (c *Conn) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	pend := c.calls
	c.calls = map[uint32]*pendingCall{}
	autoReconnect := c.opts.autoReconnect
	c.mu.Unlock()

	for _, p := range pend {
		p.err = connErr(KindClosed, cause)
		close(p.notify)
	}

	if c.health != nil {
		c.health.Stop()
	}

	if !autoReconnect {
		c.setState(Disconnected)
		c.t.Close()
		return
	}

	c.setState(Reconnecting)
	go c.reconnectLoop()
}

// reconnectLoop redials one of c.addrs, replays the Hello handshake,
// and resumes the read loop, retrying per c.opts.reconnectPolicy until
// it succeeds or gives up.
func (c *Conn) reconnectLoop() {
	ctx := context.Background()
	_, err := reconnect.Loop(ctx, c.opts.reconnectPolicy, func(ctx context.Context) (struct{}, error) {
		if b := c.opts.breaker; b != nil && !b.Allow() {
			return struct{}{}, errCircuitOpen
		}

		t, err := dial(ctx, c.addrs)
		if err != nil {
			if b := c.opts.breaker; b != nil {
				b.Failure()
			}
			return struct{}{}, err
		}

		c.mu.Lock()
		c.t = t
		c.lastSerial = 0
		c.clientID = ""
		c.mu.Unlock()

		if err := c.hello(ctx); err != nil {
			t.Close()
			if b := c.opts.breaker; b != nil {
				b.Failure()
			}
			return struct{}{}, err
		}
		if b := c.opts.breaker; b != nil {
			b.Success()
		}
		return struct{}{}, nil
	}, func(attempt int, delay time.Duration, err error) {
		log.Printf("dbus: reconnect attempt %d failed (%v), retrying in %s", attempt, err, delay)
	})

	if err != nil {
		log.Printf("dbus: giving up reconnecting: %v", err)
		c.setState(Closed)
		return
	}

	c.setState(Connected)
	if c.opts.healthCheck {
		c.startHealthMonitor()
	}
	go c.readLoop()
}
