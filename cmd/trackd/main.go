// Command trackd runs the delivery tracking service: a websocket endpoint
// for fix producers and dashboard subscribers, plus an HTTP query API for
// current positions, predictions and track statistics.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fleetglass/courier.track/internal/api"
	"github.com/fleetglass/courier.track/internal/config"
	"github.com/fleetglass/courier.track/internal/dispatch"
	"github.com/fleetglass/courier.track/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to tuning config JSON (defaults apply when empty)")
	speedUnits = flag.String("units", "kmph", "Speed units for the query API (mps, mph, kmph, kph)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("[Trackd] courier.track %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	tuning := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
		log.Printf("[Trackd] Loaded tuning config from %s", *configPath)
	}

	service := dispatch.NewService(dispatch.FromTuning(tuning), nil)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// staleness sweep
	wg.Add(1)
	go func() {
		defer wg.Done()
		service.Run()
		log.Print("sweep routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		mux.Handle("/ws", service.Handler())

		apiMux := api.NewServer(service, *speedUnits).ServeMux()
		mux.Handle("/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("[Trackd] Listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()
	service.Close()
	wg.Wait()
}
