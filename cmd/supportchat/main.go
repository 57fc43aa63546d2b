// Command supportchat runs the support chat WebSocket server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/libnamic/support-chat/internal/ban"
	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/config"
	"github.com/libnamic/support-chat/internal/identity"
	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/messaging"
	"github.com/libnamic/support-chat/internal/moderation"
	"github.com/libnamic/support-chat/internal/ratelimit"
	"github.com/libnamic/support-chat/internal/support"
	"github.com/libnamic/support-chat/internal/ws"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "supportchat",
		Short:         "Run the support chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logging.Init(cfg.Log)
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file (default: ./config.yaml if present)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logging.L().Error().Err(err).Msg("supportchat exited")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.L()

	// --- Identity ---
	jwtOpts := []identity.JWTOption{}
	if cfg.Auth.JWTIssuer != "" {
		jwtOpts = append(jwtOpts, identity.WithIssuer(cfg.Auth.JWTIssuer))
	}
	if cfg.Database.DSN != "" {
		dir, err := identity.OpenPostgresDirectory(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer dir.Close()
		jwtOpts = append(jwtOpts, identity.WithDirectory(dir))
		log.Info().Msg("resolving identities through the users table")
	}
	auth, err := identity.NewJWTAuthenticator(cfg.Auth.JWTSecret, jwtOpts...)
	if err != nil {
		return err
	}

	regOpts := []chat.Option{
		chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
		chat.WithSendTimeout(cfg.WebSocket.WriteTimeout),
	}
	var svcOpts []support.Option

	// --- Redis: customer blocks and rate limits ---
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
		}
		svcOpts = append(svcOpts,
			support.WithRateLimiter(ratelimit.NewLimiter(rdb)),
			support.WithBlockList(ban.NewStore(rdb)),
		)
		log.Info().Str("addr", cfg.Redis.Address).Msg("redis connected: blocks and rate limits enabled")
	}

	// --- NATS: room event feed ---
	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		nc, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		regOpts = append(regOpts, chat.WithEventSink(nc))
		svcOpts = append(svcOpts, support.WithEventSink(nc))
	}

	// --- Moderation ---
	if cfg.Moderation.Enabled {
		filter := moderation.NewFilter(moderation.ScreenContacts(cfg.Moderation.ScreenContacts))
		svcOpts = append(svcOpts, support.WithContentFilter(filter))
	}

	registry := chat.NewRegistry(regOpts...)
	svc := support.NewService(registry, auth, svcOpts...)
	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.Server.ListenAddr,
		MaxConnections: cfg.Server.MaxConnections,
		Conn: ws.ConnConfig{
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		},
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.Heartbeat.Interval,
			Timeout:  cfg.Heartbeat.Timeout,
		},
	}, svc)

	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Int("max_connections", cfg.Server.MaxConnections).
		Int("history_limit", cfg.Chat.HistoryLimit).
		Dur("idle_eviction", cfg.Chat.IdleEviction).
		Bool("redis", cfg.Redis.Address != "").
		Bool("nats", cfg.NATS.URL != "").
		Bool("moderation", cfg.Moderation.Enabled).
		Msg("support chat starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.ListenAndServe)

	g.Go(func() error {
		chat.RunJanitor(gctx, registry, cfg.Chat.JanitorInterval, cfg.Chat.IdleEviction)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("initiating graceful shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}
