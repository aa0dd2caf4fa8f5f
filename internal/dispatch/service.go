// Package dispatch fans smoothed position updates out to subscribers. It
// owns the per-agent track controllers, the per-agent subscriber rooms, and
// the staleness sweep that announces agents going offline.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetglass/courier.track/internal/config"
	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/monitoring"
	"github.com/fleetglass/courier.track/internal/timeutil"
	"github.com/fleetglass/courier.track/internal/track"
	"github.com/fleetglass/courier.track/internal/wire"
	"github.com/google/uuid"
)

// ErrRoomFull is returned when an agent's room has reached the subscriber cap.
var ErrRoomFull = errors.New("dispatch: room at subscriber capacity")

// Config holds the distribution tuning parameters.
type Config struct {
	// StalenessThreshold is the silence after which an agent is announced
	// offline.
	StalenessThreshold time.Duration

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration

	// RoomSubscriberCap limits subscribers per agent room.
	RoomSubscriberCap int

	// Track configures the per-agent controllers.
	Track track.Config
}

// DefaultConfig returns distribution defaults.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: 30 * time.Second,
		SweepInterval:      10 * time.Second,
		RoomSubscriberCap:  100,
		Track:              track.DefaultConfig(),
	}
}

type agentEntry struct {
	ctrl            *track.Controller
	offlineNotified bool
}

// Service routes fixes into track controllers and fans position updates out
// to per-agent rooms. Subscribers receive encoded frames on their channel;
// a subscriber that cannot keep up has frames dropped rather than stalling
// the rest of the room.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	clock  timeutil.Clock
	agents map[string]*agentEntry
	rooms  map[string]map[string]chan<- []byte

	dropped uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewService creates a distribution service. Call Run in a goroutine to
// activate the staleness sweep.
func NewService(cfg Config, clock timeutil.Clock) *Service {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Service{
		cfg:    cfg,
		clock:  clock,
		agents: make(map[string]*agentEntry),
		rooms:  make(map[string]map[string]chan<- []byte),
		done:   make(chan struct{}),
	}
}

// Run drives the staleness sweep until Close is called.
func (s *Service) Run() {
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// Close stops the sweep loop.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// HandleFix routes one validated wire fix into the agent's track controller
// and, on success, broadcasts the refreshed estimate to the agent's room.
func (s *Service) HandleFix(f wire.Fix) error {
	fix := track.Fix{
		Position:       geo.Coordinate{Lat: f.Lat, Lng: f.Lng},
		SpeedKmh:       f.SpeedKmh,
		HeadingDeg:     f.HeadingDeg,
		AccuracyMeters: f.AccuracyMeters,
		Timestamp:      f.Timestamp,
	}

	s.mu.Lock()
	entry, exists := s.agents[f.AgentID]
	if !exists {
		entry = &agentEntry{ctrl: track.NewController(s.cfg.Track, s.clock)}
	}

	if err := entry.ctrl.Ingest(fix); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("dispatch: fix for %s: %w", f.AgentID, err)
	}

	cameOnline := !exists || entry.offlineNotified
	if !exists {
		s.agents[f.AgentID] = entry
	}
	entry.offlineNotified = false
	s.mu.Unlock()

	if cameOnline {
		s.broadcast(f.AgentID, wire.TypeStatus, wire.Status{
			AgentID:   f.AgentID,
			Active:    true,
			Timestamp: s.clock.Now(),
		})
	}
	if pos, ok := s.Snapshot(f.AgentID); ok {
		s.broadcast(f.AgentID, wire.TypePosition, pos)
	}
	return nil
}

// Snapshot returns the current smoothed estimate for one agent.
func (s *Service) Snapshot(agentID string) (wire.Position, bool) {
	s.mu.Lock()
	entry, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return wire.Position{}, false
	}

	pos, ok := entry.ctrl.CurrentPosition()
	if !ok {
		return wire.Position{}, false
	}
	return wire.Position{
		AgentID:    agentID,
		Lat:        pos.Position.Lat,
		Lng:        pos.Position.Lng,
		SpeedKmh:   pos.Velocity.SpeedKmh,
		HeadingDeg: pos.HeadingDeg,
		Confidence: pos.Confidence,
		Stale:      pos.Stale,
		Timestamp:  s.clock.Now(),
	}, true
}

// Subscribe joins an agent's room. The returned ack carries the current
// snapshot when the agent has already reported. Frames are delivered on ch
// with a non-blocking send; size its buffer for the consumer's latency.
func (s *Service) Subscribe(agentID string, ch chan<- []byte) (string, wire.Subscribed, error) {
	s.mu.Lock()
	room := s.rooms[agentID]
	if len(room) >= s.cfg.RoomSubscriberCap {
		s.mu.Unlock()
		return "", wire.Subscribed{}, fmt.Errorf("%w: agent %s", ErrRoomFull, agentID)
	}
	if room == nil {
		room = make(map[string]chan<- []byte)
		s.rooms[agentID] = room
	}
	id := uuid.NewString()
	room[id] = ch
	s.mu.Unlock()

	ack := wire.Subscribed{AgentID: agentID, Active: s.agentActive(agentID)}
	if pos, ok := s.Snapshot(agentID); ok {
		ack.HasPosition = true
		ack.Position = &pos
	}
	return id, ack, nil
}

// agentActive reports whether the producer for agentID is currently
// reporting within the staleness threshold.
func (s *Service) agentActive(agentID string) bool {
	s.mu.Lock()
	entry, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return entry.ctrl.State() == track.StateTracking
}

// Unsubscribe removes one subscriber from an agent's room.
func (s *Service) Unsubscribe(agentID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[agentID]
	if room == nil {
		return
	}
	delete(room, id)
	if len(room) == 0 {
		delete(s.rooms, agentID)
	}
}

// Agent returns the track controller for one agent.
func (s *Service) Agent(agentID string) (*track.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.agents[agentID]
	if !ok {
		return nil, false
	}
	return entry.ctrl, true
}

// AgentIDs lists every agent that has reported at least once.
func (s *Service) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// SubscriberCount reports the current room size for one agent.
func (s *Service) SubscriberCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[agentID])
}

// DroppedFrames reports how many frames were discarded because a subscriber
// channel was full.
func (s *Service) DroppedFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// sweep announces agents that have crossed the staleness threshold since the
// last pass. Each silence gets exactly one offline broadcast; a fresh fix
// re-arms it.
func (s *Service) sweep() {
	type offline struct {
		agentID  string
		lastSeen time.Time
	}
	var pending []offline

	s.mu.Lock()
	for agentID, entry := range s.agents {
		if entry.offlineNotified {
			continue
		}
		last, ok := entry.ctrl.LastFix()
		if !ok {
			continue
		}
		if s.clock.Since(last.Timestamp) > s.cfg.StalenessThreshold {
			entry.offlineNotified = true
			pending = append(pending, offline{agentID: agentID, lastSeen: last.Timestamp})
		}
	}
	s.mu.Unlock()

	for _, o := range pending {
		monitoring.Logf("[Dispatch] Agent %s went offline, last seen %s", o.agentID, o.lastSeen.Format(time.RFC3339))
		s.broadcast(o.agentID, wire.TypeStatus, wire.Status{
			AgentID:   o.agentID,
			Active:    false,
			Reason:    "stale",
			Timestamp: o.lastSeen,
		})
	}
}

// broadcast encodes one message and delivers it to every subscriber in the
// agent's room without blocking.
func (s *Service) broadcast(agentID, msgType string, payload any) {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		monitoring.Logf("[Dispatch] Encoding %s broadcast: %v", msgType, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.rooms[agentID] {
		select {
		case ch <- frame:
		default:
			// Slow consumer: drop the frame rather than stall the room.
			s.dropped++
		}
	}
}

// FromTuning builds a distribution Config from the loaded tuning file.
func FromTuning(t *config.TuningConfig) Config {
	return Config{
		StalenessThreshold: t.GetStalenessThreshold(),
		SweepInterval:      t.GetSweepInterval(),
		RoomSubscriberCap:  t.GetRoomSubscriberCap(),
		Track:              track.FromTuning(t),
	}
}
