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

	"github.com/suscart-data/freshrelay/internal/api"
	"github.com/suscart-data/freshrelay/internal/config"
	"github.com/suscart-data/freshrelay/internal/detect"
	"github.com/suscart-data/freshrelay/internal/inventory"
	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db", "", "Inventory database path (overrides config)")
	detectorURL = flag.String("detector", "", "Detector sidecar URL (overrides config)")
	devMode     = flag.Bool("dev", false, "Run with a canned detector instead of the sidecar")
)

func main() {
	flag.Parse()
	log.Printf("freshrelay %s", version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen == "" {
		*listen = cfg.GetListenAddr()
	}
	if *dbPath == "" {
		*dbPath = cfg.GetDatabasePath()
	}
	if *detectorURL == "" {
		*detectorURL = cfg.GetDetectorURL()
	}

	store, err := inventory.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open inventory database: %v", err)
	}
	defer store.Close()

	// Frames go through the detector when one is configured; a dev run uses
	// a canned detector, and with neither the relay passes raw frames.
	var processor relay.Processor
	switch {
	case *devMode:
		processor = &detect.Static{}
	case *detectorURL != "":
		processor = detect.NewClient(*detectorURL)
	}

	relayCfg := cfg.RelayConfig()
	relayCfg.Processor = processor
	relayCfg.Snapshots = store
	hub := relay.NewHub(relayCfg)
	defer hub.Shutdown()

	// Inventory mutations broadcast through the hub from here on.
	store.SetPublisher(hub)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(hub, store)
		mux := apiServer.ServeMux()

		// mount the admin debugging routes
		if err := apiServer.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
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

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
