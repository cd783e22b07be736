package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/config"
	"salesgrid.io/internal/httpapi"
	"salesgrid.io/internal/migrate"
	"salesgrid.io/internal/obs"
	"salesgrid.io/internal/rowlevel"
	"salesgrid.io/internal/store/pg"
	"salesgrid.io/internal/stream"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Postgres.DSN)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	if cfg.Postgres.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := migrate.NewManager(store.DB(), nil).Up(ctx)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
	}

	events := stream.New()
	svc, err := access.NewService(store,
		access.WithResolverCache(cfg.Resolver.CacheSize, cfg.Resolver.CacheTTL),
		access.WithNotifier(events),
	)
	if err != nil {
		log.WithError(err).Fatal("init access service")
	}
	guard, err := rowlevel.NewGuard(svc.Resolver())
	if err != nil {
		log.WithError(err).Fatal("init guard")
	}
	records, err := rowlevel.NewRecords(guard, store)
	if err != nil {
		log.WithError(err).Fatal("init records")
	}
	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		log.WithError(err).Fatal("init tokens")
	}

	var limiter httpapi.Limiter = httpapi.NewLocalLimiter(cfg.Limits.RPS, cfg.Limits.Burst)
	if cfg.Limits.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Limits.RedisAddr})
		defer rdb.Close()
		perWindow := int(cfg.Limits.RPS*cfg.Limits.Window.Seconds()) + cfg.Limits.Burst
		limiter = httpapi.NewRedisLimiter(rdb, perWindow, cfg.Limits.Window, "")
		log.WithField("redis", cfg.Limits.RedisAddr).Info("using shared rate limiter")
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api, err := httpapi.New(httpapi.Config{
		Service:        svc,
		Records:        records,
		Tokens:         tokens,
		Stream:         events,
		Ready:          probe,
		Limiter:        limiter,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		Version:        version,
	})
	if err != nil {
		log.WithError(err).Fatal("init http api")
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("listen grpc")
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCServer(probe)
		health.Register(grpcSrv)
		go health.Run(ctx, 5*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.WithError(err).Error("grpc serve")
			}
		}()
		log.WithField("addr", cfg.Server.GRPCAddr).Info("grpc health listening")
	}

	go func() {
		log.WithFields(map[string]any{"version": version, "addr": srv.Addr}).Info("starting salesgrid-access")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Info("stopped")
}
