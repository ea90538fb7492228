package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/jobbid/internal/api"
	"github.com/SirClappington/jobbid/internal/auth"
	"github.com/SirClappington/jobbid/internal/config"
	"github.com/SirClappington/jobbid/internal/engine"
	"github.com/SirClappington/jobbid/internal/gateway"
	"github.com/SirClappington/jobbid/internal/hub"
	"github.com/SirClappington/jobbid/internal/logging"
	"github.com/SirClappington/jobbid/internal/matcher"
	"github.com/SirClappington/jobbid/internal/relay"
	"github.com/SirClappington/jobbid/internal/storage"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatal(err)
	}

	cfg := config.Load()
	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
	logger.Info("api stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var store storage.Store = storage.NewMemory()
	if cfg.PostgresDSN != "" {
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return errors.Wrap(err, "open postgres")
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping postgres")
		}
		store = storage.NewPostgres(db)
		logger.Info("using postgres store")
	} else {
		logger.Warn("POSTGRES_DSN not set, jobs are kept in memory")
	}

	g, gctx := errgroup.WithContext(ctx)

	events := hub.New(cfg.SubscriberBuffer, logger.Named("hub"))
	defer events.Close()
	var pub engine.Publisher = events
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		rl := relay.New(rdb, events, logger.Named("relay"))
		pub = rl
		g.Go(func() error { return rl.Run(gctx) })
	}

	eng := engine.New(store, pub, logger.Named("engine"), engine.Options{
		LockTimeout:   cfg.LockTimeout,
		MaxBidsPerJob: cfg.MaxBidsPerJob,
	})
	resolver := auth.NewJWTResolver([]byte(cfg.JWTSigningKey), time.Now)
	gw := gateway.New(resolver, eng, events, logger.Named("gateway"), gateway.Options{})
	handler := api.NewHandler(eng, matcher.New(store, cfg.DefaultSearchRadiusM, cfg.MaxSearchRadiusM), logger)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewRouter(handler, resolver, gw, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.APIAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Shutdown does not wait for hijacked websocket connections.
		events.Close()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
