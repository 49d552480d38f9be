// Package runtime assembles the daemon: telemetry, the diagnostic journal,
// the synthesis engine, the audio player, the inbound channel, and the
// health endpoints.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spokehq/speakd/internal/audio"
	"github.com/spokehq/speakd/internal/bus"
	"github.com/spokehq/speakd/internal/config"
	"github.com/spokehq/speakd/internal/daemon"
	"github.com/spokehq/speakd/internal/engine"
	"github.com/spokehq/speakd/internal/eventstore"
	"github.com/spokehq/speakd/internal/natsserver"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until the inbound channel closes, a QUIT command
// arrives, or ctx is cancelled. A failure to load the synthesis engine is
// fatal and returned immediately; restart policy belongs to the supervisor.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	eng, err := engine.Load(ctx, r.cfg.Engine, r.logger)
	if err != nil {
		_ = journal.Append(ctx, eventstore.Event{
			Kind:   eventstore.KindStartup,
			Detail: "model load failed: " + err.Error(),
		})
		return fmt.Errorf("failed to load synthesis engine: %w", err)
	}
	_ = journal.Append(ctx, eventstore.Event{
		Kind:   eventstore.KindStartup,
		Detail: fmt.Sprintf("model loaded, %d voices", len(eng.Voices())),
	})

	player, err := audio.NewPlayer(r.cfg.Audio, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build audio player: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		DefaultVoice: r.cfg.Engine.DefaultVoice,
		DefaultSpeed: r.cfg.Engine.DefaultSpeed,
		MaxLineBytes: r.cfg.Daemon.MaxLineBytes,
	}, eng, player, journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	r.startHTTP(metricsHandler)
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("mode", r.cfg.Daemon.Mode),
		slog.String("addr", r.httpServer.Addr))

	var runErr error
	switch r.cfg.Daemon.Mode {
	case "bus":
		runErr = r.runBus(ctx, cancel, d)
	default:
		runErr = r.runStream(ctx, d)
	}

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return runErr
}

// runStream serves commands from stdin or the named pipe, with acks on stdout.
func (r *Runtime) runStream(ctx context.Context, d *daemon.Daemon) error {
	var in io.Reader = os.Stdin
	if r.cfg.Daemon.Mode == "pipe" {
		// Opening a FIFO read-only blocks until a writer appears; the
		// supervisor contract guarantees the pipe already exists.
		file, err := os.OpenFile(r.cfg.Daemon.PipePath, os.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("open inbound pipe: %w", err)
		}
		defer file.Close()
		in = file
	}
	return d.Run(ctx, in, os.Stdout)
}

// runBus serves commands from the NATS subject until QUIT or cancellation.
func (r *Runtime) runBus(ctx context.Context, cancel context.CancelFunc, d *daemon.Daemon) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	client, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer client.Close()

	source := bus.NewSource(client, r.cfg.Bus.Subject, d, cancel, r.logger)
	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("subscribe to command subject: %w", err)
	}
	defer source.Close()

	<-ctx.Done()
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
