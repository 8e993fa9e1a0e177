package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/normanking/lumi/internal/config"
	"github.com/normanking/lumi/internal/conversation"
	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/realtime"
	"github.com/normanking/lumi/internal/server"
	"github.com/normanking/lumi/internal/store"
	"github.com/normanking/lumi/internal/summary"
	"github.com/spf13/cobra"
)

// drainTimeout bounds how long shutdown waits for open conversations to be
// saved.
const drainTimeout = 15 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime conversation server",
	Long: `Serve the realtime websocket (/ws), the conversation history API
(/api/conversations), health (/healthz) and Prometheus metrics (/metrics).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logs.Component("serve")
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(logs.Zerolog(), cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newServices(cfg)

	var mirror *events.RedisMirror
	if cfg.Events.RedisAddr != "" {
		mirror, err = events.NewRedisMirror(logs.Zerolog(), events.RedisConfig{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
			Stream:   cfg.Events.RedisStream,
		})
		if err != nil {
			// The mirror is optional; conversations still work without it.
			log.Warn().Err(err).Msg("Event mirror disabled")
		} else {
			defer mirror.Close()
		}
	}

	if cfg.Summary.Enabled {
		sched, err := summary.NewScheduler(logs.Zerolog(), summary.Config{
			Schedule:  cfg.Summary.Schedule,
			BatchSize: cfg.Summary.BatchSize,
		}, db, svc.generator)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// New connections pick up the latest reloaded config.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	live := newRegistry()

	factory := func(player playback.Player, mic conversation.Microphone) *conversation.Runtime {
		c := current.Load()
		rt := conversation.New(logs.Zerolog(), runtimeConfig(c), conversation.Deps{
			Transcriber: svc.transcriber,
			Synthesizer: svc.synthesizer,
			Generator:   svc.generator,
			Player:      player,
			Archive:     db,
			Microphone:  mic,
		})
		var onDone func()
		if mirror != nil {
			if err := mirror.Attach(rt.Bus()); err != nil {
				log.Warn().Err(err).Msg("Event mirror attach failed")
			} else {
				onDone = func() { mirror.Detach(rt.Bus()) }
			}
		}
		live.add(rt, onDone)
		return rt
	}

	if loader.File() != "" {
		loader.Watch(func(next *config.Config) {
			current.Store(next)
			live.each(func(rt *conversation.Runtime) {
				rt.ApplyAudio(next.Audio.VADThreshold, next.Audio.SilenceDuration)
			})
			log.Info().Str("file", loader.File()).Msg("Configuration reloaded")
		}, func(err error) {
			log.Warn().Err(err).Msg("Configuration reload rejected")
		})
	}

	ws := realtime.NewHandler(logs.Zerolog(), cfg.Audio.SampleRate, factory)
	srv := server.New(logs.Zerolog(), server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DefaultUserID:   cfg.User.ID,
	}, db, ws)
	srv.RegisterOnShutdown(ws.CloseAll)

	fmt.Println(titleStyle.Render("Lumi") + dimStyle.Render(" listening on "+cfg.Server.Addr))
	if err := srv.Start(ctx); err != nil {
		return err
	}

	// Let disconnected conversations finish saving before the store closes.
	deadline := time.Now().Add(drainTimeout)
	for live.len() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := live.len(); n > 0 {
		log.Warn().Int("conversations", n).Msg("Shutdown with conversations still open")
	}
	fmt.Println(successStyle.Render("Stopped"))
	return nil
}
