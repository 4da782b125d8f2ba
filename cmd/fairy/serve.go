package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/bus"
	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/config"
	"github.com/normanking/fairy/internal/logging"
	"github.com/normanking/fairy/internal/memory"
	"github.com/normanking/fairy/internal/metrics"
	"github.com/normanking/fairy/internal/server"
	"github.com/normanking/fairy/internal/tools/android"
	"github.com/normanking/fairy/internal/transcribe"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server for the phone app",
		Long: `Serve accepts websocket connections on /ws, runs each text or audio
command through the assistant and streams progress back. It also exposes
/health and Prometheus /metrics.

Examples:
  fairy serve
  fairy serve --addr 127.0.0.1:5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg

	events := bus.NewBus()
	defer events.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	collector := metrics.NewCollector(events, m)
	collector.Start()
	defer collector.Stop()

	// The bridge needs the server and the server needs the loop built on
	// the bridge; srv is assigned before any command can run.
	var srv *server.Server
	emitter := android.EmitterFunc(func(ctx context.Context, in android.Intent) error {
		return srv.Emit(ctx, in)
	})

	caps, err := buildCapabilities(ctx, cfg, emitter, capability.WithObserver(m))
	if err != nil {
		return err
	}

	model, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	model.WithObserver(m)

	store, err := openMemory(ctx, cfg)
	if err != nil {
		return err
	}
	var (
		mem    agent.Memory
		pruner *memory.Pruner
	)
	if store != nil {
		defer store.Close()
		mem = metrics.InstrumentMemory(store, m)
		pruner, err = memory.NewPruner(store, cfg.Memory.PruneSchedule, cfg.Memory.Retention)
		if err != nil {
			return err
		}
	}

	loop := agent.NewLoop(model, caps.registry, loopOptions(cfg, mem)...)

	opts := []server.Option{
		server.WithBus(events),
		server.WithGatherer(prometheus.DefaultGatherer),
		server.WithVersion(version),
	}
	if cfg.Transcription.Enabled {
		opts = append(opts, server.WithTranscriber(transcribe.NewWhisperClient(cfg.Transcription.Config)))
	}
	srv = server.New(cfg.Server, loop, opts...)

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("provider", cfg.LLM.Provider).
		Int("capabilities", caps.registry.Len()).
		Bool("memory", store != nil).
		Bool("audio", cfg.Transcription.Enabled).
		Msg("Fairy Assistant starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if pruner != nil {
		g.Go(func() error {
			return pruner.Run(gctx)
		})
	}

	g.Go(func() error {
		err := config.Watch(gctx, c.cfgPath, func(next *config.Config) {
			applyLive(next, caps)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config reload disabled")
		}
		return nil
	})

	return g.Wait()
}

// applyLive applies the settings that may change on a running server.
func applyLive(next *config.Config, caps *capabilities) {
	level := next.Logging.Level
	if err := logging.SetLevel(level); err != nil {
		log.Warn().Err(err).Msg("ignoring log level change")
	}
	caps.shell.SetPolicy(next.Shell.Policy())
	log.Info().
		Str("level", level).
		Int("banned_keywords", len(caps.shell.Policy().BannedKeywords)).
		Msg("live settings applied")
}
