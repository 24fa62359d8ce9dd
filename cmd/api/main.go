package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    redis "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "recoverydispatch/internal/api"
    "recoverydispatch/internal/buildinfo"
    "recoverydispatch/internal/config"
    "recoverydispatch/internal/eta"
    "recoverydispatch/internal/integrations/google"
    "recoverydispatch/internal/logging"
    "recoverydispatch/internal/metrics"
    "recoverydispatch/internal/notify"
    "recoverydispatch/internal/store"
    "recoverydispatch/internal/store/migrate"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        fmt.Fprintf(os.Stderr, "config: %v\n", err)
        os.Exit(1)
    }
    log := logging.Must(cfg.Log.Level, cfg.Log.Development)
    defer func() { _ = log.Sync() }()

    if err := run(cfg, log); err != nil {
        log.Fatal("server exited", zap.Error(err))
    }
}

func run(cfg config.Config, log *zap.Logger) error {
    log.Info("starting recovery dispatch api", zap.String("version", buildinfo.String()))
    metrics.RegisterDefault()

    st, closeStore, err := openStore(cfg, log)
    if err != nil { return err }
    defer closeStore()

    var rdb *redis.Client
    if cfg.RedisURL != "" {
        opt, err := redis.ParseURL(cfg.RedisURL)
        if err != nil { return fmt.Errorf("parse REDIS_URL: %w", err) }
        rdb = redis.NewClient(opt)
        defer func() { _ = rdb.Close() }()
    }

    provider, err := eta.NewProvider(cfg.ETA.Provider, cfg.ETA.GoogleKey, cfg.ETA.RateRPS, log.Named("eta"))
    if err != nil { return err }
    if rdb != nil {
        provider = eta.NewRedisCache(rdb, provider, cfg.ETA.CacheTTL, log.Named("eta-cache"))
    }

    srv := api.NewServer(cfg, st, provider, log)
    if rdb != nil { srv.Broker = api.NewRedisBroker(rdb, log.Named("broker")) }
    if cfg.ETA.GoogleKey != "" {
        gc, err := google.New(cfg.ETA.GoogleKey, log.Named("google"), google.WithRateLimit(cfg.ETA.RateRPS))
        if err != nil { return err }
        srv.Geocoder, srv.Postcodes, srv.Places = gc, gc, gc
    }
    srv.Notifier = notify.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("notify"))
    defer func() { _ = srv.Notifier.Close() }()

    worker := srv.NewWebhookWorker()
    worker.Start()
    defer close(worker.Stop)

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srv.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    errCh := make(chan error, 1)
    go func() {
        log.Info("API listening", zap.String("addr", httpSrv.Addr))
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { errCh <- err }
        close(errCh)
    }()

    select {
    case err := <-errCh:
        return err
    case <-ctx.Done():
    }
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    return httpSrv.Shutdown(shutdownCtx)
}

// openStore picks Postgres when DATABASE_URL is set, otherwise the in-memory store.
func openStore(cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
    if cfg.DatabaseURL == "" {
        log.Warn("DATABASE_URL not set; using in-memory store")
        return store.NewMemory(), func() {}, nil
    }
    if cfg.DBMigrate {
        if err := migrate.Up(cfg.DatabaseURL, cfg.MigrationsDir, log.Named("migrate")); err != nil {
            return nil, nil, fmt.Errorf("migrate: %w", err)
        }
    }
    pg, err := store.NewPostgres(cfg.DatabaseURL)
    if err != nil { return nil, nil, err }
    return pg, func() { _ = pg.Close() }, nil
}
