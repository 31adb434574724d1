package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wayleave/internal/admin"
	"wayleave/internal/api"
	"wayleave/internal/audit"
	"wayleave/internal/auth"
	"wayleave/internal/backend"
	"wayleave/internal/backend/local"
	"wayleave/internal/config"
	"wayleave/internal/daemon"
	"wayleave/internal/database"
	"wayleave/internal/kv"
	"wayleave/internal/logger"
	"wayleave/internal/monitoring"
	"wayleave/internal/notifications"
	"wayleave/internal/openfga"
	"wayleave/internal/records"
	"wayleave/internal/storage"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// services is the wired backend: nil interfaces leave the client unconfigured.
type services struct {
	identity backend.Identity
	data     backend.DataStore
	files    backend.AttachmentStore
	pinger   api.Pinger
	listener daemon.Listener
	close    func()
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	telemetry, err := monitoring.NewOpenTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	store, err := newKVStore(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	defer store.Close()

	files, err := storage.NewFactory(storageConfig(cfg)).CreateStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc, err := newServices(ctx, cfg, log, store, files)
	if err != nil {
		return err
	}
	defer svc.close()

	bus := notifications.NewBus(ctx, log, store,
		notifications.WithToastTTL(cfg.Notifications.ToastTTL),
		notifications.WithLogKey(cfg.Notifications.LogKey),
	)
	defer bus.Close()

	var auditor *audit.Auditor
	if svc.data != nil {
		auditor = audit.NewAuditor(log, svc.data)
	}

	var limiter auth.Limiter = auth.NewMemoryLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	if redisClient != nil {
		limiter = auth.NewRedisLimiter(redisClient, cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	}

	manager := auth.NewManager(log, svc.identity, svc.data, bus, store,
		auth.WithLimiter(limiter),
		auth.WithTelemetry(telemetry),
		auth.WithAuditor(auditor),
		auth.WithLoginDomain(cfg.Auth.LoginDomain),
	)
	defer manager.Close()
	restored := manager.Restore(ctx)
	log.Info("Startup session state", "state", restored.String())

	repo := records.NewRepository(log, svc.data, svc.files, bus, manager,
		records.WithTelemetry(telemetry),
		records.WithAuditor(auditor),
	)

	adminOpts := []admin.Option{admin.WithAuditor(auditor)}
	fga, err := openfga.NewClient(ctx, log, cfg.OpenFGA)
	if err != nil {
		return fmt.Errorf("failed to initialize openfga: %w", err)
	}
	if fga.IsEnabled() {
		adminOpts = append(adminOpts, admin.WithRoleMirror(openfga.NewRoleMirror(fga)))
	}
	users := admin.NewService(log, svc.data, bus, manager, adminOpts...)

	serverOpts := []api.Option{
		api.WithLoginLimit(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow),
	}
	if svc.pinger != nil {
		serverOpts = append(serverOpts, api.WithPinger(svc.pinger))
	}
	if files != nil {
		serverOpts = append(serverOpts, api.WithFiles(files))
	}
	if telemetry.IsEnabled() {
		serverOpts = append(serverOpts, api.WithTracing(cfg.Telemetry.ServiceName))
	}
	app := api.NewServer(log, manager, repo, users, bus, serverOpts...).NewApp()

	daemons := daemon.NewDaemonManager(log)
	if svc.data != nil {
		daemons.Add("record-sync", daemon.RecordSyncTask(log, repo, manager, cfg.Sync.Interval))
	}
	if svc.listener != nil {
		daemons.Add("auth-events", daemon.ListenTask(log, svc.listener))
	}
	daemons.Start(ctx)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "addr", addr, "backend", cfg.Backend.Mode)
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("Failed to shut down server", "error", err)
	}
	daemons.Wait()
	log.Info("Shutdown complete")
	return nil
}

func newKVStore(cfg *config.Config, client *redis.Client) (kv.Store, error) {
	if kv.StoreType(cfg.KV.Type) == kv.StoreTypeRedis {
		if client == nil {
			return nil, errors.New("redis kv store requires redis")
		}
		return kv.NewRedisStoreFromClient(client, cfg.KV.Prefix), nil
	}
	return kv.New(kv.Config{
		Type:   kv.StoreType(cfg.KV.Type),
		Prefix: cfg.KV.Prefix,
		Postgres: kv.PostgresConfig{
			ConnectionURI: cfg.Database.URL,
			Table:         cfg.KV.Table,
		},
	})
}

func storageConfig(cfg *config.Config) storage.StorageConfig {
	sc := storage.StorageConfig{
		Type:          storage.StorageType(cfg.Storage.Type),
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		LocalPath:     cfg.Storage.LocalPath,
	}
	if sc.PublicBaseURL == "" && sc.Type != storage.StorageTypeS3 {
		sc.PublicBaseURL = "/files"
	}
	if sc.Type == storage.StorageTypeS3 {
		sc.S3 = &storage.S3Config{
			Bucket:   cfg.Storage.S3Bucket,
			Region:   cfg.Storage.S3Region,
			Endpoint: cfg.Storage.S3Endpoint,
		}
	}
	return sc
}

func newServices(ctx context.Context, cfg *config.Config, log *slog.Logger, store kv.Store, files storage.Storage) (services, error) {
	switch cfg.Backend.Mode {
	case config.BackendLocal:
		b, err := local.New(ctx, log, store,
			local.WithAttachmentStore(files),
			local.WithConfirmation(cfg.Auth.RequireConfirmation),
			local.WithSessionTTL(cfg.Auth.SessionTTL),
		)
		if err != nil {
			return services{}, fmt.Errorf("failed to open local backend: %w", err)
		}
		if cfg.Backend.SeedDemo {
			if err := b.SeedDemo(ctx, cfg.Auth.LoginDomain); err != nil {
				return services{}, fmt.Errorf("failed to seed demo data: %w", err)
			}
		}
		return services{identity: b, data: b, files: b, close: func() {}}, nil

	case config.BackendPostgres:
		db := database.NewDatabase()
		if err := db.Connect(ctx, cfg.Database.URL); err != nil {
			return services{}, fmt.Errorf("failed to initialize database: %w", err)
		}
		identity := database.NewIdentity(&db, log, database.IdentityConfig{
			JWTSecret:           cfg.Auth.JWTSecret,
			SessionTTL:          cfg.Auth.SessionTTL,
			RequireConfirmation: cfg.Auth.RequireConfirmation,
		})
		return services{
			identity: identity,
			data:     &db,
			files:    files,
			pinger:   &db,
			listener: identity,
			close:    db.Close,
		}, nil

	default:
		log.Warn("No backend configured; every operation will fail fast")
		return services{close: func() {}}, nil
	}
}
