package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"guild-server/internal/callback"
	"guild-server/internal/channel"
	"guild-server/internal/config"
	"guild-server/internal/db"
	"guild-server/internal/guild"
	"guild-server/internal/handlers"
	"guild-server/internal/logger"
	"guild-server/internal/metrics"
	"guild-server/internal/middleware"
	"guild-server/internal/moderation"
	"guild-server/internal/permission"
	"guild-server/internal/role"
	"guild-server/internal/store"
	"guild-server/internal/user"
	"guild-server/internal/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	gdb, err := db.Open(cfg.Database.Path, db.Options{})
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	if err := db.Migrate(gdb); err != nil {
		return err
	}
	if err := metrics.Migrate(gdb); err != nil {
		return err
	}

	observer := metrics.NewNotifyObserver()
	reg := callback.NewRegistry()
	reg.SetObserver(observer)

	s := store.New(gdb)
	cache := permission.NewCache(reg, cfg.Permissions.CacheTTL)
	if cache != nil {
		defer cache.Close()
	}
	perms := permission.NewEngine(s, permission.WithCache(cache))

	timeouts := moderation.NewTimeoutService(s, perms, reg)
	bans := moderation.NewBanService(s, perms, reg)
	if err := bans.LoadBans(ctx); err != nil {
		return err
	}
	servers := guild.NewServerService(s, perms, reg)
	channels := channel.NewService(s, perms, reg)
	users := user.NewService(s, perms)

	hub := websocket.NewHub(reg, websocket.NewAccessGuard(perms, servers, channels))
	ms := metrics.NewMetricsService(gdb, cfg.Metrics.SnapshotInterval, cfg.Metrics.Retention)

	h := &handlers.Handlers{
		Perms:     perms,
		Users:     users,
		Friends:   user.NewFriendService(s, reg, user.FriendRequestPolicy(cfg.FriendRequests.Policy)),
		Servers:   servers,
		Invites:   guild.NewInviteService(s, reg),
		Channels:  channels,
		Overrides: channel.NewOverrideService(s, perms, reg),
		Messages:  channel.NewMessageService(s, perms, reg, timeouts, cfg.Limits.MaxMessageLength),
		Direct:    channel.NewDirectMessageService(s, reg, cfg.Limits.MaxMessageLength),
		Roles:     role.NewService(s, perms, reg, cfg.Limits.RoleNameMax),
		UserRoles: role.NewUserRoleService(s, perms, reg, cfg.Limits.MaxRolesPerUser),
		Bans:      bans,
		Timeouts:  timeouts,
		Reports:   moderation.NewReportService(s, perms, reg),
		Hub:       hub,
		Metrics:   ms,
		Observer:  observer,
	}

	mux := http.NewServeMux()
	h.Routes(mux, middleware.NewAuth(users, bans), cfg.RateLimit.RequestsPerMinute)

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           middleware.CORS(middleware.TrackOutboundData(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ms.Start()
	defer ms.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := timeouts.PurgeExpired(ctx); err != nil {
					slog.Warn("failed to purge expired timeouts", "error", err)
				} else if n > 0 {
					slog.Info("purged expired timeouts", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		logServerConnectionInfo(cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func logServerConnectionInfo(addr string) {
	port := addr[strings.LastIndex(addr, ":")+1:]
	if port == "" {
		port = "8080"
	}

	urls := []string{"http://localhost:" + port, "http://127.0.0.1:" + port}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		slog.Warn("could not determine network addresses", "error", err)
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			urls = append(urls, "http://"+ipnet.IP.String()+":"+port)
		}
	}
	slog.Info("server listening", "addr", addr, "urls", urls)
}
