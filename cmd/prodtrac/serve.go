package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akfujita/prodtrac/internal/audit"
	"github.com/akfujita/prodtrac/internal/config"
	"github.com/akfujita/prodtrac/internal/dispatch"
	"github.com/akfujita/prodtrac/internal/display"
	"github.com/akfujita/prodtrac/internal/ingest"
	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/records"
	"github.com/akfujita/prodtrac/internal/session"
	"github.com/akfujita/prodtrac/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the station: read scanners, track sessions, drive displays",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load(configPath, logger)
		if err != nil {
			if errors.Is(err, config.ErrNoPorts) {
				reportConfigFault(cfg, logger)
			}
			return err
		}

		// Create the display first so store faults can reach the screen.
		var disp display.Display
		if cfg.Display.NATSURL != "" {
			nd, err := display.NewNATSDisplay(cfg.Display.NATSURL, cfg.Display.Station)
			if err != nil {
				return err
			}
			disp = nd
			logger.Info("display enabled", "nats_url", cfg.Display.NATSURL, "station", cfg.Display.Station)
		} else {
			disp = display.NoopDisplay{}
			logger.Info("display disabled (no nats_url configured)")
		}

		// Connect to Postgres.
		store, err := postgres.New(cfg.Store.DatabaseURL)
		if err != nil {
			for _, p := range cfg.Ports {
				disp.ShowError(context.Background(), p.Device, "E01", display.FatalErrorHold)
			}
			disp.Close()
			return err
		}

		// Fallback audit log, optionally shipped to S3 on rotation.
		aud, err := audit.NewLogger(cfg.Audit.Dir, logger)
		if err != nil {
			disp.Close()
			store.Close()
			return err
		}
		if cfg.Audit.Bucket != "" {
			shipper, err := audit.NewS3Shipper(context.Background(),
				cfg.Audit.Bucket, cfg.Audit.Prefix, cfg.Audit.Region, cfg.Audit.Endpoint)
			if err != nil {
				logger.Error("failed to create audit S3 shipper", "err", err)
			} else {
				aud.SetShipper(shipper)
				logger.Info("audit shipping enabled", "bucket", cfg.Audit.Bucket)
			}
		}

		recs := records.NewManager(store, logger)

		// Register ports with their configured defaults, resolving the
		// display labels from the masters.
		reg := session.NewRegistry()
		for _, p := range cfg.Ports {
			worker := resolveLabel(recs.WorkerLabel, p.WorkerCD, logger)
			process := resolveLabel(recs.ProcessLabel, p.ProcessCD, logger)
			reg.InitPort(p.Device, p.WorkerCD, p.ProcessCD, worker, process)
		}

		timers := display.NewSynchronizer(reg, disp, logger)
		dispatcher := dispatch.New(reg, recs, disp, timers, aud, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var wg sync.WaitGroup
		for _, p := range cfg.Ports {
			loop := ingest.NewLoop(p, dispatcher, reg, disp, timers, logger)
			timers.PaintOnce(p.Device)
			wg.Add(1)
			go func() {
				defer wg.Done()
				loop.Run(ctx)
			}()
		}
		loopsDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(loopsDone)
		}()

		logger.Info("prodtrac started", "ports", len(cfg.Ports))

		// Wait for SIGINT or SIGTERM, or for every port loop to die.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
		case <-loopsDone:
			logger.Error("all serial readers stopped, shutting down")
		}

		// Graceful shutdown.
		cancel()
		wg.Wait()
		timers.StopAll()
		if err := disp.Close(); err != nil {
			logger.Error("error closing display", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// reportConfigFault pushes the config error screen to the station panel
// when the display settings themselves parsed.
func reportConfigFault(cfg config.Config, logger *slog.Logger) {
	if cfg.Display.NATSURL == "" {
		return
	}
	nd, err := display.NewNATSDisplay(cfg.Display.NATSURL, cfg.Display.Station)
	if err != nil {
		logger.Error("cannot reach display for config fault", "err", err)
		return
	}
	defer nd.Close()
	nd.ShowError(context.Background(), "", "E02", display.FatalErrorHold)
}

func resolveLabel(resolve func(context.Context, string) (string, error), code string, logger *slog.Logger) string {
	if code == "" {
		return ""
	}
	label, err := resolve(context.Background(), code)
	if err != nil {
		logger.Warn("label lookup failed", "code", code, "err", err)
		return model.MissingLabel
	}
	return label
}
