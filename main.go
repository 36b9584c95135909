package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ptz-presets/api"
	"ptz-presets/camera"
	"ptz-presets/config"
	"ptz-presets/events"
	"ptz-presets/layout"
	"ptz-presets/logging"
)

func main() {
	cfg := config.MustLoad()

	if err := logging.Configure(cfg.Logging.FilePath); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	logging.SetTraceEnabled(cfg.Logging.Trace)

	lm, err := layout.NewManager(cfg.LayoutFile)
	if err != nil {
		log.Fatalf("failed to load layout: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(0)
	fleet := camera.NewFleet(bus)
	n := fleet.Connect(ctx, cfg.Cameras, camera.ISAPIDialer(cfg.Timeout))
	log.Printf("connected %d of %d cameras", n, len(cfg.Cameras))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.RegisterRoutes(fleet, lm, bus, cfg.SnapDistance),
	}
	go func() {
		log.Printf("ptz-presets listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(err)
	}
	// Renames that never reached a camera are written before exit.
	if _, err := fleet.CommitAll(shutdownCtx, camera.CommitForce); err != nil {
		logging.Error(err)
	}
	if err := lm.Save(); err != nil {
		logging.Error(err)
	}
}
