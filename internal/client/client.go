// Package client is the consumer side of the tracking websocket: it keeps a
// connection alive with exponential backoff, re-establishes room
// subscriptions after every reconnect, and renders incoming position
// updates through per-agent animators at a fixed frame rate.
package client

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fleetglass/courier.track/internal/config"
	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/monitoring"
	"github.com/fleetglass/courier.track/internal/smoother"
	"github.com/fleetglass/courier.track/internal/timeutil"
	"github.com/fleetglass/courier.track/internal/wire"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config holds the client tuning parameters.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string

	// InitialBackoff and MaxBackoff bound the reconnect delay. Each failed
	// attempt doubles the delay up to the cap; a successful connection
	// resets it.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// FrameRate is how many poses per second the render loop emits for each
	// subscribed agent.
	FrameRate int

	// Animation configures the per-agent marker easing.
	Animation smoother.Config
}

// DefaultConfig returns client defaults for a dashboard consumer.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		FrameRate:      60,
		Animation:      smoother.DefaultConfig(),
	}
}

// Callbacks are invoked from the client's internal goroutines; they must not
// block. Any callback may be nil.
type Callbacks struct {
	// OnPose fires once per frame per agent with the eased marker pose.
	OnPose func(agentID string, pose smoother.Pose)

	// OnStatus fires when the server announces a producer liveness
	// transition.
	OnStatus func(agentID string, active bool)

	// OnState fires on connection state transitions.
	OnState func(state State)
}

// Outbound frames buffered per connection; subscriptions are replayed on
// reconnect, so overflow drops cost nothing durable.
const sendQueueSize = 16

// Client maintains the consumer connection and the per-agent animators. All
// websocket writes funnel through the send queue drained by one writer
// goroutine per connection.
type Client struct {
	cfg       Config
	clock     timeutil.Clock
	callbacks Callbacks

	mu      sync.Mutex
	state   State
	send    chan []byte
	desired map[string]bool
	anims   map[string]*smoother.Animator
}

// New creates a client. Call Run to connect.
func New(cfg Config, clock timeutil.Clock, callbacks Callbacks) *Client {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Client{
		cfg:       cfg,
		clock:     clock,
		callbacks: callbacks,
		state:     StateDisconnected,
		desired:   make(map[string]bool),
		anims:     make(map[string]*smoother.Animator),
	}
}

// Subscribe marks an agent as wanted. The subscription is sent now if
// connected and replayed after every reconnect.
func (c *Client) Subscribe(agentID string) {
	c.mu.Lock()
	c.desired[agentID] = true
	c.mu.Unlock()

	c.sendSubscribe(agentID)
}

// Unsubscribe drops an agent and its animator.
func (c *Client) Unsubscribe(agentID string) {
	c.mu.Lock()
	delete(c.desired, agentID)
	delete(c.anims, agentID)
	c.mu.Unlock()

	if frame, err := wire.Encode(wire.TypeUnsubscribe, wire.Unsubscribe{AgentID: agentID}); err == nil {
		c.enqueue(frame)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pose returns the current eased pose for an agent, if one has arrived.
func (c *Client) Pose(agentID string) (smoother.Pose, bool) {
	c.mu.Lock()
	anim := c.anims[agentID]
	c.mu.Unlock()
	if anim == nil {
		return smoother.Pose{}, false
	}
	return anim.Sample()
}

// Run connects and serves until ctx is cancelled. The render loop runs for
// the whole lifetime; the connection is re-dialed with exponential backoff
// whenever it drops.
func (c *Client) Run(ctx context.Context) error {
	go c.renderLoop(ctx)

	backoff := c.cfg.InitialBackoff
	for {
		c.setState(StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			monitoring.Logf("[Client] Dial %s failed, retrying in %s: %v", c.cfg.URL, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
			continue
		}
		backoff = c.cfg.InitialBackoff

		send := c.attach(conn)
		c.setState(StateConnected)
		c.replaySubscriptions()

		c.readUntilClosed(ctx, conn)
		c.detach(conn, send)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		monitoring.Logf("[Client] Connection lost, reconnecting")
	}
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// attach installs a fresh send queue and starts the writer goroutine that
// owns every write on this connection.
func (c *Client) attach(conn *websocket.Conn) chan []byte {
	send := make(chan []byte, sendQueueSize)
	go func() {
		for frame := range send {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
	return send
}

func (c *Client) detach(conn *websocket.Conn, send chan []byte) {
	conn.Close()
	c.mu.Lock()
	if c.send == send {
		c.send = nil
	}
	c.mu.Unlock()
	close(send)
}

func (c *Client) replaySubscriptions() {
	c.mu.Lock()
	agents := make([]string, 0, len(c.desired))
	for id := range c.desired {
		agents = append(agents, id)
	}
	c.mu.Unlock()

	for _, id := range agents {
		c.sendSubscribe(id)
	}
}

func (c *Client) sendSubscribe(agentID string) {
	frame, err := wire.Encode(wire.TypeSubscribe, wire.Subscribe{AgentID: agentID})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// enqueue hands a frame to the connection's writer. Enqueues happen under
// the mutex and detach clears the queue under it before closing, so a frame
// is never sent on a closed channel. No connection means the frame is
// dropped; the reconnect replay covers it.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	msgType, payload, err := wire.Decode(frame)
	if err != nil {
		monitoring.Logf("[Client] Dropping frame: %v", err)
		return
	}

	switch msg := payload.(type) {
	case *wire.Position:
		c.applyPosition(msg)

	case *wire.Subscribed:
		if msg.HasPosition && msg.Position != nil {
			c.applyPosition(msg.Position)
		}

	case *wire.Status:
		if c.callbacks.OnStatus != nil {
			c.callbacks.OnStatus(msg.AgentID, msg.Active)
		}

	case *wire.Error:
		monitoring.Logf("[Client] Server error %s: %s", msg.Code, msg.Message)

	default:
		monitoring.Logf("[Client] Ignoring %s frame", msgType)
	}
}

func (c *Client) applyPosition(pos *wire.Position) {
	c.mu.Lock()
	anim := c.anims[pos.AgentID]
	if anim == nil {
		anim = smoother.NewAnimator(c.cfg.Animation, c.clock)
		c.anims[pos.AgentID] = anim
	}
	c.mu.Unlock()

	anim.SetTarget(smoother.Pose{
		Position:   geo.Coordinate{Lat: pos.Lat, Lng: pos.Lng},
		HeadingDeg: pos.HeadingDeg,
	})
}

// renderLoop emits one pose per agent per frame until ctx is cancelled.
func (c *Client) renderLoop(ctx context.Context) {
	fps := c.cfg.FrameRate
	if fps <= 0 {
		fps = 60
	}
	interval := time.Duration(math.Round(float64(time.Second) / float64(fps)))

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.emitFrame()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) emitFrame() {
	if c.callbacks.OnPose == nil {
		return
	}

	c.mu.Lock()
	snapshot := make(map[string]*smoother.Animator, len(c.anims))
	for id, anim := range c.anims {
		snapshot[id] = anim
	}
	c.mu.Unlock()

	for id, anim := range snapshot {
		if pose, ok := anim.Sample(); ok {
			c.callbacks.OnPose(id, pose)
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.callbacks.OnState != nil {
		c.callbacks.OnState(s)
	}
}

// FromTuning builds a client Config from the loaded tuning file, keeping the
// dial and backoff defaults.
func FromTuning(url string, t *config.TuningConfig) Config {
	cfg := DefaultConfig(url)
	cfg.FrameRate = t.GetFrameRate()
	cfg.Animation = smoother.FromTuning(t)
	return cfg
}
