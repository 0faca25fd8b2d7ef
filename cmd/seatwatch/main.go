package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/capture"
	"github.com/ayusman/seatwatch/internal/config"
	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/server"
	"github.com/ayusman/seatwatch/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()
	log.Info("SeatWatch - classroom seat monitoring")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("seatwatch stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	log.WithField("path", cfg.DBPath).Info("store opened")

	reg := registry.New(cfg.ModelsDir, cfg.AllowedModels)
	manager := app.NewManager(app.Config{
		Registry:           reg,
		Loader:             detector.NewLoader(log),
		Store:              st,
		Detection:          cfg.Detector(),
		RunnerScript:       cfg.RunnerScript,
		PythonPath:         cfg.PythonPath,
		RunnerStartTimeout: cfg.RunnerStartTimeout,
		Log:                log,
	})
	defer manager.Close()

	if cfg.Restore() {
		restored, err := manager.Restore(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("could not restore detector, starting inactive")
		case restored:
			log.Info("restored previous detector")
		}
	}

	pipeline := app.NewPipeline(manager, log)

	var watcher *app.Watcher
	if cfg.Watch.Enabled {
		camera := capture.NewCamera(cfg.Watch.Camera, cfg.Watch.Width, cfg.Watch.Height)
		watcher, err = app.NewWatcher(pipeline, camera, app.WatchConfig{
			Schedule:        cfg.Watch.Schedule,
			MotionThreshold: cfg.Watch.MotionThreshold,
			Seats:           cfg.Watch.Regions(),
			SessionID:       "watch-" + cfg.Watch.Camera,
		}, log)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
	}

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.WithField("dir", staticDir).Info("serving static files")
	}

	srvConfig := server.Config{
		StaticDir: staticDir,
		Manager:   manager,
		Pipeline:  pipeline,
		Registry:  reg,
		Store:     st,
		Log:       log,
	}
	if watcher != nil {
		srvConfig.Watch = watcher
	}
	srv := server.New(srvConfig)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting server")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("error stopping watch")
		}
	}
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error shutting down HTTP server")
	}
	return nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.seatwatch/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".seatwatch", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
