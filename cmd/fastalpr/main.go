package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/salography/fast-alpr/internal/alpr"
	"github.com/salography/fast-alpr/internal/archive"
	"github.com/salography/fast-alpr/internal/config"
	"github.com/salography/fast-alpr/internal/engine"
	"github.com/salography/fast-alpr/internal/logging"
	"github.com/salography/fast-alpr/internal/server"
	"github.com/salography/fast-alpr/internal/sink"
	"github.com/salography/fast-alpr/internal/sink/async"
	"github.com/salography/fast-alpr/internal/sink/mqtt"
	"github.com/salography/fast-alpr/internal/sink/multi"
	"github.com/salography/fast-alpr/internal/sink/stdout"
	"github.com/salography/fast-alpr/internal/sink/webhook"
	"github.com/salography/fast-alpr/internal/snapshot"
	"github.com/salography/fast-alpr/internal/source"

	// Register source implementations.
	_ "github.com/salography/fast-alpr/internal/source/filesim"
	_ "github.com/salography/fast-alpr/internal/source/rtsp"
	_ "github.com/salography/fast-alpr/internal/source/webcam"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.Output.Stdout, logging.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch missing model files when a base URL is configured.
	if cfg.ALPR.ModelBaseURL != "" {
		if err := alpr.EnsureModels(ctx, cfg.ALPR.ModelBaseURL, cfg.ALPR.ModelsDir,
			cfg.ALPR.DetectorModel, cfg.ALPR.OCRModel); err != nil {
			log.Fatalf("failed to fetch models: %v", err)
		}
	}

	// Initialize recognizer.
	rec, err := alpr.New(
		filepath.Join(cfg.ALPR.ModelsDir, cfg.ALPR.DetectorModel+".onnx"),
		filepath.Join(cfg.ALPR.ModelsDir, cfg.ALPR.OCRModel+".onnx"),
		cfg.ALPR.DetectorThreshold,
	)
	if err != nil {
		log.Fatalf("failed to create recognizer: %v", err)
	}
	defer rec.Close()

	// Resolve frame source.
	src, err := source.New(source.Config{
		Provider:        cfg.Source.Provider,
		MaxReadFailures: cfg.Engine.MaxSourceFailures,
		Extra:           cfg.Source.Extra,
	})
	if err != nil {
		log.Fatalf("failed to create source: %v", err)
	}

	// Assemble the observation fan-out.
	var sinks []sink.Sink
	if cfg.Output.Stdout {
		sinks = append(sinks, stdout.New(cfg.Output.Pretty))
	}
	if cfg.Output.WebhookURL != "" {
		sinks = append(sinks, webhook.New(cfg.Output.WebhookURL))
	}
	if cfg.Output.MQTTBroker != "" {
		mq, err := mqtt.New(cfg.Output.MQTTBroker, cfg.Output.MQTTTopic,
			mqtt.WithClientID(cfg.Output.MQTTClientID))
		if err != nil {
			log.Fatalf("failed to connect mqtt sink: %v", err)
		}
		sinks = append(sinks, mq)
	}

	var arc *archive.Archive
	if cfg.Output.ArchivePath != "" {
		arc, err = archive.New(cfg.Output.ArchivePath)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		sinks = append(sinks, arc)
	}

	var hub *server.Hub
	if cfg.Server.Addr != "" {
		hub = server.NewHub()
		sinks = append(sinks, hub)
	}

	fanout := async.New(multi.New(sinks...), async.WithOnError(func(err error) {
		slog.Warn("sink write failed", "error", err)
	}))

	// Build engine. The ended hook both finalizes the archive row and lets
	// a headless run exit when its session finishes on its own.
	sessionEnded := make(chan struct{}, 1)
	eng := engine.New(src, rec,
		engine.Config{
			OutputDir:          cfg.Output.Dir,
			MinConfidence:      cfg.Engine.MinConfidence,
			DuplicateWindow:    cfg.Engine.DuplicateWindow,
			FrameInterval:      cfg.Engine.FrameInterval,
			MaxStorageFailures: cfg.Engine.MaxStorageFailures,
		},
		engine.WithSinks(fanout),
		engine.WithSessionHooks(
			func(id string, at time.Time) {
				if arc == nil {
					return
				}
				if err := arc.StartSession(id, at); err != nil {
					slog.Warn("archive session start failed", "error", err)
				}
			},
			func(id string, at time.Time, total int) {
				if arc != nil {
					if err := arc.FinishSession(id, at, total); err != nil {
						slog.Warn("archive session finish failed", "error", err)
					}
				}
				select {
				case sessionEnded <- struct{}{}:
				default:
				}
			},
		),
	)

	// Start control server.
	var srv *server.Server
	if cfg.Server.Addr != "" {
		opts := []server.Option{
			server.WithBaseContext(ctx),
			server.WithHub(hub),
			server.WithSnapshots(snapshot.NewWriter(cfg.Output.Dir)),
		}
		if arc != nil {
			opts = append(opts, server.WithStore(arc))
		}
		srv = server.New(cfg.Server.Addr, eng, opts...)
		go func() {
			if err := srv.Listen(); err != nil {
				log.Fatalf("server error: %v", err)
			}
		}()
	}

	slog.Info("fast-alpr starting",
		"version", config.Version,
		"source", cfg.Source.Provider,
		"listen", cfg.Server.Addr,
		"frame_interval", cfg.Engine.FrameInterval)

	if cfg.Engine.AutoStart {
		if _, err := eng.Start(ctx); err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
	}

	// Set up graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Without a control server the process is done when its session is;
	// with one, sessions come and go under operator control.
	if srv == nil {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
		case <-sessionEnded:
		}
	} else {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sum, err := eng.Stop()
		if err != nil {
			slog.Error("session stop failed", "error", err)
		}
		if srv != nil {
			if err := srv.Shutdown(); err != nil {
				slog.Error("server shutdown failed", "error", err)
			}
		}
		if err := fanout.Close(); err != nil {
			slog.Error("sink close failed", "error", err)
		}
		printSummary(sum)
	}()

	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		slog.Error("shutdown timed out", "timeout", cfg.ShutdownTimeout)
		os.Exit(1)
	}
}

// printSummary writes the end-of-run report to stderr.
func printSummary(sum *engine.Summary) {
	if sum == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\nsession %s: %d detections, %d unique plates\n",
		sum.SessionID, sum.Total, len(sum.PlateCounts))
	plates := make([]string, 0, len(sum.PlateCounts))
	for p := range sum.PlateCounts {
		plates = append(plates, p)
	}
	sort.Strings(plates)
	for _, p := range plates {
		fmt.Fprintf(os.Stderr, "  %s x%d\n", p, sum.PlateCounts[p])
	}
	fmt.Fprintf(os.Stderr, "session file: %s\n", sum.Path)
}
