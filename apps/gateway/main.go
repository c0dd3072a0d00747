// Command gateway serves the live channel (/ws) and the REST surface from one
// process, so reads through either path reach the same sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/presence-chat/pkg/api"
	"github.com/mahaj/presence-chat/pkg/auth"
	"github.com/mahaj/presence-chat/pkg/config"
	"github.com/mahaj/presence-chat/pkg/logging"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/notify"
	"github.com/mahaj/presence-chat/pkg/presence"
	"github.com/mahaj/presence-chat/pkg/realtime"
	"github.com/mahaj/presence-chat/pkg/snowflake"
	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/mahaj/presence-chat/pkg/store/scylla"
	"github.com/mahaj/presence-chat/pkg/store/sqlite"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	ids, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTTTL)

	hub := realtime.NewHub(log, verifier, st, ids, realtime.Options{
		SendQueueSize:   cfg.SendQueueSize,
		NotifyQueueSize: cfg.NotifyQueueSize,
		MaxBodyLength:   cfg.MaxBodyLength,
		MaxFrameBytes:   cfg.MaxFrameBytes,
		TypingTTL:       cfg.TypingTTL,
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
		StoreTimeout:    5 * time.Second,
	})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		mirror := presence.NewRedisMirror(rdb, log, presence.OnlineSetKey, 1024, func() []model.UserID {
			return hub.Registry().OnlineUsers()
		})
		hub.UseMirror(mirror)
		g.Go(func() error { return mirror.Run(ctx) })
	}

	if cfg.KafkaEnabled() {
		reader := notify.NewReader(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, cfg.KafkaGroupID)
		consumer := notify.NewConsumer(log, reader, hub)
		g.Go(func() error { return consumer.Run(ctx) })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.ServeWS)
	deps := api.Deps{
		Store:        st,
		Reads:        hub.Router(),
		Presence:     hub.Registry(),
		Verifier:     verifier,
		HistoryLimit: cfg.HistoryLimit,
	}
	if cfg.DevLogin {
		log.Warn("Development login enabled")
		deps.Issuer = verifier
	}
	api.New(log, deps).Register(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error {
		log.Info("Gateway listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// hijacked websocket conns are not tracked by Shutdown; hub.Run closes them
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Gateway stopped")
	return err
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using sqlite store", "path", cfg.SQLitePath)
		return s, s, nil
	case config.DriverScylla:
		session, err := scylla.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log)
		if err != nil {
			return nil, nil, err
		}
		return scylla.NewStore(session), closerFunc(func() error { session.Close(); return nil }), nil
	default:
		log.Warn("Using in-memory store; messages are lost on restart")
		return store.NewMemory(), closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
