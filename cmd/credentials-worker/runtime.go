package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	credentials "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/adapters/gologger"
	"github.com/goliatone/go-credentials/adapters/tomlconfig"
	"github.com/goliatone/go-credentials/core"
	credentialmigrations "github.com/goliatone/go-credentials/migrations"
	"github.com/goliatone/go-credentials/providers/meta"
	"github.com/goliatone/go-credentials/scheduler"
	memorystore "github.com/goliatone/go-credentials/store/memory"
	redisstore "github.com/goliatone/go-credentials/store/redis"
	sqlstore "github.com/goliatone/go-credentials/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const tenantCacheTTL = 5 * time.Minute

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "credentials-worker" }

type runtime struct {
	logger    glog.Logger
	client    *persistence.Client
	service   *core.Service
	scheduler *scheduler.Scheduler
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRuntime(ctx context.Context, root *cli) (*runtime, error) {
	loggers, err := gologger.NewZerologProvider(os.Stderr, root.LogLevel, root.LogPretty)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: gologger.Component(loggers, "worker")}

	configProvider := core.NewCfgxConfigProvider(tomlconfig.NewLoader(root.Config))
	cfg, err := configProvider.Load(ctx, credentials.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cipher, err := credentials.CipherFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	provider, err := credentials.MetaProviderFromConfig(cfg, meta.WithLogger(gologger.Component(loggers, "meta")))
	if err != nil {
		return nil, fmt.Errorf("meta provider: %w", err)
	}

	client, err := openPersistence(root)
	if err != nil {
		return nil, err
	}
	rt.client = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = tenantCacheTTL
	tenantCache, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tenant cache: %w", err)
	}

	opts := []credentials.Option{
		credentials.WithLoggerProvider(loggers),
		credentials.WithConfigProvider(configProvider),
		credentials.WithPersistenceClient(client),
		credentials.WithRepositoryFactory(sqlstore.NewRepositoryFactory(sqlstore.WithTenantCache(tenantCache))),
		credentials.WithCipher(cipher),
		credentials.WithProvider(provider),
	}
	stateStore, err := rt.stateStore(root)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if stateStore != nil {
		opts = append(opts, credentials.WithAuthorizationStateStore(stateStore))
	}

	service, err := credentials.NewService(cfg, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = service

	sweeper, err := scheduler.New(service, cfg.Scheduler,
		scheduler.WithLogger(gologger.Component(loggers, "scheduler")),
		scheduler.WithLookahead(cfg.ExpiringLookahead),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.scheduler = sweeper
	return rt, nil
}

// stateStore returns nil for the sql backend, which the repository factory
// provides.
func (r *runtime) stateStore(root *cli) (core.AuthorizationStateStore, error) {
	switch root.StateStore {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: root.RedisAddr})
		r.closers = append(r.closers, func() { _ = client.Close() })
		store, err := redisstore.NewAuthorizationStateStore(client)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		store := memorystore.NewAuthorizationStateStore()
		store.Start()
		r.closers = append(r.closers, store.Stop)
		return store, nil
	default:
		return nil, nil
	}
}

func openPersistence(root *cli) (*persistence.Client, error) {
	driver := strings.TrimSpace(root.Driver)
	var dialect schema.Dialect
	switch driver {
	case "postgres":
		dialect = pgdialect.New()
	case "sqlite3":
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, root.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: root.DSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	return client, nil
}

func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	if _, err := credentialmigrations.Register(client, driver); err != nil {
		return err
	}
	return client.Migrate(ctx)
}
