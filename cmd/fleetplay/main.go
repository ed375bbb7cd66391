package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"fleetview/playback/internal/api"
	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/config"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/player"
	"fleetview/playback/internal/status"
	"fleetview/playback/internal/surface"
	"fleetview/playback/internal/visibility"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

const helpText = `fleetplay - Play a fleet camera's live or recorded stream

Usage:
  fleetplay [options]

Media is written to stdout: raw H264 for WebRTC sessions, MPEG-TS or fMP4
segments for HLS playback. Pipe to ffplay or ffmpeg.

Environment Variables (required):
  FLEET_TOKEN           API token
  FLEET_CAMERA          Camera id

Environment Variables (optional):
  FLEET_API_URL         Provisioning API base url
  FLEET_KIND            live (default) or clip
  FLEET_TRANSPORT       webrtc (default) or hls; clips always use hls
  FLEET_CLIP_START      Clip start, RFC 3339 (required for clips)
  FLEET_CLIP_END        Clip end, RFC 3339 (required for clips)
  FLEET_RESOLUTION      low, standard (default) or high
  FLEET_SEEK_OFFSET     Initial clip seek, e.g. 30s
  FLEET_RELOAD_DELAY    Live HLS reload delay (default 500ms)
  FLEET_PEER_TIMEOUT    WebRTC peer response timeout (default 10s)
  FLEET_RETRY_INTERVAL  Descriptor refetch retry interval (default 1s)
  FLEET_STATUS_ADDR     Status server listen address, e.g. :8080

Signals:
  SIGUSR1               Viewer hidden: pause and defer reconnects
  SIGUSR2               Viewer visible: reload

Examples:
  # Live playback
  fleetplay | ffplay -f h264 -

  # Record a clip
  FLEET_KIND=clip FLEET_CLIP_START=2024-05-01T08:00:00Z \
  FLEET_CLIP_END=2024-05-01T08:05:00Z fleetplay | ffmpeg -i - -c copy clip.mp4

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] done")
}

func run(cfg *config.Config) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.Real()
	surf := surface.New(clk, os.Stdout)
	vis := visibility.NewToggle(true)
	metrics := player.NewMetrics()

	mgr, err := player.NewManager(player.ManagerOptions{
		Surface:     surf,
		Provisioner: api.NewClient(cfg.APIURL, cfg.Token),
		Hooks: domain.Hooks{
			OnSourceLoaded: func() {
				log.Printf("[main] source loaded")
				surf.Play()
			},
			OnVideoStartedPlay: func() { log.Printf("[main] playing") },
			OnVideoPaused:      func() { log.Printf("[main] paused") },
			OnVideoReload:      func() { log.Printf("[main] reloading") },
		},
		SeekOffset:    cfg.Seek,
		Clock:         clk,
		Visibility:    vis,
		ReloadDelay:   cfg.ReloadDelay,
		PeerTimeout:   cfg.PeerTimeout,
		RetryInterval: cfg.RetryInterval,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	defer mgr.Dispose()

	log.Printf("[main] requesting %s stream for %s", cfg.Kind, cfg.Camera)
	if err := mgr.Open(ctx, cfg.Request()); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	detach := player.PauseWhenHidden(mgr, surf, vis)
	defer detach()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		visCh := make(chan os.Signal, 1)
		ossignal.Notify(visCh, syscall.SIGUSR1, syscall.SIGUSR2)
		defer ossignal.Stop(visCh)
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-visCh:
				hidden := sig == syscall.SIGUSR1
				log.Printf("[main] received %s, hidden=%t", sig, hidden)
				vis.Set(!hidden)
			}
		}
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:    cfg.StatusAddr,
			Handler: status.NewRouter(status.NewHandler(mgr), metrics),
		}
		g.Go(func() error {
			log.Printf("[main] status server on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("[main] shutting down")
	return nil
}
