package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/approval"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/config"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
	"github.com/igoryan-dao/turnbridge/internal/procsup"
	"github.com/igoryan-dao/turnbridge/internal/reaction"
	"github.com/igoryan-dao/turnbridge/internal/remotebridge"
	"github.com/igoryan-dao/turnbridge/internal/store"
	"github.com/igoryan-dao/turnbridge/internal/voice"
)

func main() {
	log := newLogger()

	cfg, err := config.Load(log)
	if err != nil {
		log.WithError(err).Fatal("turnbridge: failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("turnbridge: shutdown signal received")
		cancel()
	}()

	st := store.Open(filepath.Join(cfg.BridgeDataDir, "sessions.json"), log)

	transcriber, err := voice.NewLocalTranscriber(
		getEnvOrDefault("TURNBRIDGE_WHISPER_PATH", "whisper-cli"),
		getEnvOrDefault("TURNBRIDGE_WHISPER_MODEL", ""),
		filepath.Join(cfg.BridgeDataDir, "tmp"),
		log,
	)
	if err != nil {
		log.WithError(err).Fatal("turnbridge: failed to construct voice transcriber")
	}

	var chat chatclient.Client
	var telegramClient *chatclient.TelegramClient
	var discordClient *chatclient.DiscordClient

	br := newBridge(cfg, nil, st, transcriber, log)

	if cfg.TelegramToken != "" {
		telegramClient, err = chatclient.NewTelegramClient(cfg.TelegramToken, cfg.BridgeDataDir, br.registerTelegramHandler(), log)
		if err != nil {
			log.WithError(err).Fatal("turnbridge: failed to construct telegram client")
		}
		chat = telegramClient
	}
	if cfg.DiscordToken != "" {
		discordClient, err = chatclient.NewDiscordClient(cfg.DiscordToken, log)
		if err != nil {
			log.WithError(err).Fatal("turnbridge: failed to construct discord client")
		}
		if chat == nil {
			chat = discordClient
		}
	}
	if chat == nil {
		log.Fatal("turnbridge: neither TELEGRAM_BOT_TOKEN nor DISCORD_BOT_TOKEN configured a usable chat client")
	}
	br.chat = chat
	br.activity = activity.New(chat, log)
	br.reactions = reaction.New(chat)

	sup := procsup.New(cfg.SubprocessCommand, cfg.SubprocessArgs, "", log, br.onSpawn)
	if err := sup.Start(ctx); err != nil {
		log.WithError(err).Fatal("turnbridge: failed to start supervised subprocess")
	}
	defer func() {
		if err := sup.Stop(); err != nil {
			log.WithError(err).Warn("turnbridge: subprocess shutdown did not complete cleanly")
		}
	}()

	sched, err := procsup.NewScheduler(procsup.CleanupTasks{
		ApprovalSweepSpec: "@every 1m",
		ApprovalSweep: func() {
			if cur := br.current(); cur.approval != nil {
				n := cur.approval.CleanupStaleApprovals(approval.DefaultExpiryTimeout)
				if n > 0 {
					log.WithField("count", n).Info("turnbridge: expired stale approvals")
				}
			}
		},
		ChannelPruneSpec: "@every 1h",
		ChannelPrune: func() {
			n := st.PruneInactiveChannels(24 * time.Hour)
			if n > 0 {
				log.WithField("count", n).Info("turnbridge: pruned inactive channel sessions")
			}
		},
	}, log)
	if err != nil {
		log.WithError(err).Fatal("turnbridge: failed to build cleanup scheduler")
	}
	sched.Start()
	defer sched.Stop()

	hub := remotebridge.NewHub(os.Getenv("TURNBRIDGE_REMOTE_SECRET"), log)
	remoteServer := remotebridge.NewServer(hub, log)

	mux := metrics.Router()
	mux.Handle("/remote", remoteServer)

	httpAddr := getEnvOrDefault("TURNBRIDGE_HTTP_ADDR", ":8080")
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.WithField("addr", httpAddr).Info("turnbridge: metrics/remote-bridge server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("turnbridge: http server stopped")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if telegramClient != nil {
		go func() {
			if err := telegramClient.Start(ctx); err != nil {
				log.WithError(err).Error("turnbridge: telegram long-polling stopped")
			}
		}()
	}
	if discordClient != nil {
		br.registerDiscordHandlers(discordClient)
		if err := discordClient.Open(); err != nil {
			log.WithError(err).Fatal("turnbridge: failed to open discord session")
		}
		defer discordClient.Close()
	}

	log.Info("turnbridge: ready")
	<-ctx.Done()
	log.Info("turnbridge: shutting down")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds the structured logger every turnbridge component
// shares, the ambient-stack counterpart of the teacher's bare stdlib
// log.Printf calls (spec's AMBIENT STACK: sirupsen/logrus, text formatter
// with full timestamps, level from TURNBRIDGE_LOG_LEVEL).
func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(getEnvOrDefault("TURNBRIDGE_LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l.WithField("component", "turnbridge")
}
