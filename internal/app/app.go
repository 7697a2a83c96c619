// Package app wires the runtime components from configuration. Both the
// server and the admin CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/ozon/internal/cache"
	"github.com/atinyakov/ozon/internal/config"
	"github.com/atinyakov/ozon/internal/credential"
	"github.com/atinyakov/ozon/internal/db"
	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/repository"
	"github.com/atinyakov/ozon/internal/schema"
	"github.com/atinyakov/ozon/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Options  *config.Options
	Log      *zap.Logger
	Store    docstore.Store
	Registry *schema.Registry
	Records  *repository.RecordStore
	Users    repository.UserDirectory
	Hasher   credential.Hasher
	Sessions *service.SessionManager
	Auth     *service.AuthService
	Data     *service.DataService

	closers []func(context.Context) error
}

// New connects the configured backends and builds the services. The
// caller must Close the returned App.
func New(ctx context.Context, opts *config.Options, log *zap.Logger) (_ *App, err error) {
	a := &App{Options: opts, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	stores := db.Stores(ctx, db.StoreOptions{
		URI:      opts.MongoURI,
		Database: opts.Database,
		Timeout:  opts.StoreTimeout.Duration,
	}, log)
	a.Store, err = stores.New(opts.StoreBackend)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if c, ok := a.Store.(interface{ Close(context.Context) error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Registry = schema.NewRegistry(a.Store, log)
	a.Records = repository.NewRecordStore(a.Store, log)

	if opts.PostgresDSN != "" {
		var pg *sql.DB
		pg, err = db.InitPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init user directory: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		a.Users = repository.NewPostgresUserDirectory(pg)
		log.Info("users served from postgres")
	} else {
		a.Users = repository.NewRecordUserDirectory(a.Records, a.Registry.MustBuiltin(schema.UserModel))
	}

	var sessionCache service.SessionCache
	if opts.RedisURL != "" {
		var client *redis.Client
		client, err = cache.Dial(ctx, opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect session cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		sessionCache = cache.NewRedisSessionCache(client, opts.SessionTTL.Duration)
		log.Info("session cache enabled")
	}

	primary, err := credential.NewRegistry().New(opts.PasswordHasher)
	if err != nil {
		return nil, err
	}
	a.Hasher = credential.NewAuto(primary)

	a.Sessions = service.NewSessionManager(a.Records, a.Registry.MustBuiltin(schema.SessionModel), a.Users, sessionCache,
		service.SessionConfig{TTL: opts.SessionTTL.Duration, PublicEndpoints: opts.PublicEndpoints}, log)
	a.Auth, err = service.NewAuthService(a.Users, a.Hasher, a.Sessions, log)
	if err != nil {
		return nil, err
	}
	a.Data = service.NewDataService(a.Registry, a.Records, opts.DeleteRecordAfterDays, log)
	return a, nil
}

// Bootstrap creates the indexes of every model and loads the model
// definitions file when one is configured.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.Data.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	if a.Options.ModelsFile == "" {
		return nil
	}
	n, err := a.LoadModels(ctx, a.Options.ModelsFile)
	if err != nil {
		return err
	}
	a.Log.Info("model definitions loaded", zap.String("file", a.Options.ModelsFile), zap.Int("count", n))
	return nil
}

// LoadModels loads the YAML model definitions in path.
func (a *App) LoadModels(ctx context.Context, path string) (int, error) {
	defs, err := schema.LoadYAML(path)
	if err != nil {
		return 0, err
	}
	return a.Data.LoadDefinitions(ctx, defs)
}

// Close releases the connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
