// Command viewer is a headless client for the relay. It loads the floor
// plan, follows /updates into a scene and runs the frame loop, logging
// the scene state periodically instead of drawing it.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"espc3d/internal/floorplan"
	"espc3d/internal/observability"
	"espc3d/internal/scene"
)

type options struct {
	url            string
	fps            int
	reportInterval time.Duration
	retryDelay     time.Duration
	logLevel       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{
		url:            "http://localhost:3001",
		fps:            60,
		reportInterval: 5 * time.Second,
		retryDelay:     3 * time.Second,
		logLevel:       "info",
	}

	cmd := &cobra.Command{
		Use:           "viewer",
		Short:         "Follow an espc3d relay and reconcile its snapshots into a scene",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.NewLogger(opts.logLevel)
			if err := run(ctx, opts, logger); err != nil {
				logger.Error("viewer stopped", "err", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", opts.url, "relay base URL")
	f.IntVar(&opts.fps, "fps", opts.fps, "frame loop rate")
	f.DurationVar(&opts.reportInterval, "report-interval", opts.reportInterval, "how often to log the scene")
	f.DurationVar(&opts.retryDelay, "retry-delay", opts.retryDelay, "wait before reopening a dropped stream")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	if opts.fps <= 0 {
		return errors.Errorf("fps must be positive, got %d", opts.fps)
	}
	base := strings.TrimRight(opts.url, "/")
	client := &http.Client{}

	floors, err := fetchFloors(ctx, client, base+"/api/floors")
	if err != nil {
		return err
	}
	outlines := floorplan.BuildOutlines(floors, scene.Origin)
	logger.Info("floor plan loaded", "floors", len(floors), "outlines", len(outlines))

	sc := scene.New(nil)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			err := scene.Stream(gctx, client, base+"/updates", func(snap scene.Snapshot) {
				if n := sc.Apply(snap); n > 0 {
					logger.Info("new trackers", "created", n, "total", sc.Len())
				}
			}, logger)
			if gctx.Err() != nil {
				return nil
			}
			logger.Warn("update stream dropped", "err", err)
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(opts.retryDelay):
			}
		}
	})

	g.Go(func() error {
		frames := time.NewTicker(time.Second / time.Duration(opts.fps))
		defer frames.Stop()
		report := time.NewTicker(opts.reportInterval)
		defer report.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-frames.C:
				sc.Frame()
			case <-report.C:
				logScene(logger, sc)
			}
		}
	})

	return g.Wait()
}

func fetchFloors(ctx context.Context, client *http.Client, url string) ([]floorplan.Floor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build floors request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch floors")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch floors: status %d", resp.StatusCode)
	}
	var floors []floorplan.Floor
	if err := json.NewDecoder(resp.Body).Decode(&floors); err != nil {
		return nil, errors.Wrap(err, "decode floors")
	}
	return floors, nil
}

func logScene(logger *slog.Logger, sc *scene.Scene) {
	rot := sc.Rotation()
	logger.Info("scene", "proxies", sc.Len(), "pulse", sc.Pulse(), "rotation_z", rot.Z)
	for _, p := range sc.Proxies() {
		logger.Debug("proxy", "name", p.Name, "color", p.Color,
			"x", p.Position.X, "y", p.Position.Y, "z", p.Position.Z, "scale", p.Scale)
	}
}
