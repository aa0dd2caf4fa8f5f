// Command fixgen feeds synthetic courier fixes into a running trackd, for
// load testing and demo dashboards. Each simulated agent drives a random
// walk: steady speed with occasional turns and speed changes, reported at
// the configured cadence with optional GPS jitter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fleetglass/courier.track/internal/geo"
	"github.com/fleetglass/courier.track/internal/wire"
	"github.com/gorilla/websocket"
)

var (
	serverURL = flag.String("url", "ws://localhost:8080/ws", "Trackd websocket endpoint")
	agents    = flag.Int("agents", 5, "Number of simulated agents")
	cadence   = flag.Duration("cadence", 5*time.Second, "Interval between fixes per agent")
	baseLat   = flag.Float64("lat", 19.1890, "Starting latitude")
	baseLng   = flag.Float64("lng", 72.8398, "Starting longitude")
	jitter    = flag.Float64("jitter", 5, "GPS noise amplitude in meters")
)

type simAgent struct {
	id       string
	pos      geo.Coordinate
	speedKmh float64
	heading  float64
	rng      *rand.Rand
}

func newSimAgent(i int, rng *rand.Rand) *simAgent {
	return &simAgent{
		id:       fmt.Sprintf("sim-agent-%d", i),
		pos:      geo.Coordinate{Lat: *baseLat + rng.Float64()*0.01, Lng: *baseLng + rng.Float64()*0.01},
		speedKmh: 20 + rng.Float64()*30,
		heading:  rng.Float64() * 360,
		rng:      rng,
	}
}

// step advances the agent by one cadence interval and returns the fix it
// would report, jitter included.
func (a *simAgent) step(dt time.Duration) wire.Fix {
	// Occasional maneuver: turn up to 60 degrees, or change speed sharply.
	if a.rng.Float64() < 0.2 {
		a.heading += (a.rng.Float64() - 0.5) * 120
		a.heading = normalize(a.heading)
	}
	if a.rng.Float64() < 0.1 {
		a.speedKmh = 5 + a.rng.Float64()*55
	}

	v := geo.SpeedVector(a.speedKmh, a.heading, a.pos.Lat)
	a.pos = geo.Project(a.pos, v, dt.Seconds())

	noiseDeg := *jitter / geo.MetersPerDegree
	speed := a.speedKmh
	heading := a.heading
	accuracy := *jitter

	return wire.Fix{
		AgentID:        a.id,
		Lat:            a.pos.Lat + (a.rng.Float64()-0.5)*2*noiseDeg,
		Lng:            a.pos.Lng + (a.rng.Float64()-0.5)*2*noiseDeg,
		SpeedKmh:       &speed,
		HeadingDeg:     &heading,
		AccuracyMeters: &accuracy,
		Timestamp:      time.Now(),
	}
}

func normalize(heading float64) float64 {
	for heading < 0 {
		heading += 360
	}
	for heading >= 360 {
		heading -= 360
	}
	return heading
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *serverURL, err)
	}
	defer conn.Close()

	// Drain inbound frames so the server can surface rejections.
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType, payload, err := wire.Decode(frame); err == nil && msgType == wire.TypeError {
				e := payload.(*wire.Error)
				log.Printf("server rejected a frame: %s: %s", e.Code, e.Message)
			}
		}
	}()

	var mu sync.Mutex // serialises websocket writes
	sendFix := func(f wire.Fix) error {
		frame, err := wire.Encode(wire.TypeFix, f)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	var wg sync.WaitGroup
	for i := 0; i < *agents; i++ {
		agent := newSimAgent(i, rand.New(rand.NewSource(time.Now().UnixNano()+int64(i))))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(*cadence)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := sendFix(agent.step(*cadence)); err != nil {
						log.Printf("sending fix for %s: %v", agent.id, err)
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	log.Printf("[Fixgen] Driving %d agents into %s every %s", *agents, *serverURL, *cadence)
	wg.Wait()
	<-ctx.Done()
}
