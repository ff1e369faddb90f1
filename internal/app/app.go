package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
	"imprintr/guard/internal/backend"
	"imprintr/guard/internal/config"
	"imprintr/guard/internal/guard"
	"imprintr/guard/internal/httpserver"
	"imprintr/guard/internal/metrics"
	"imprintr/guard/internal/observability"
	"imprintr/guard/internal/ratelimit"
)

const version = "0.1.0"

// App owns the process-wide security context: one limiter and one event log
// shared by every HTTP boundary. Authorization is resolved per request.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	db       *sql.DB
	rdb      *redis.Client
	events   *audit.Logger
	auth     *auth.Authenticator
	sessions auth.SessionResolver
	throttle *ratelimit.TokenStore
	server   *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	a := &App{cfg: cfg, log: logger}
	if err := a.build(); err != nil {
		a.closeStores()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}

	var stats ratelimit.StatsStore = ratelimit.NewMemoryStatsStore()
	if cfg.RateLimit.StatsRedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.StatsRedisAddr,
			Password: cfg.RateLimit.StatsRedisPassword,
			DB:       cfg.RateLimit.StatsRedisDB,
		})
		if err := a.rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		stats = ratelimit.NewRedisStatsStore(a.rdb, ratelimit.WithStatsPrefix(cfg.RateLimit.StatsPrefix))
	}

	m := metrics.New(true)

	sinks := []audit.Sink{audit.NewSlogSink(a.log)}
	if cfg.Audit.LogFile != "" {
		sinks = append(sinks, audit.NewFileSink(cfg.Audit.LogFile))
	}
	if a.db != nil {
		pgSink, err := audit.NewPostgresSink(a.db)
		if err != nil {
			return fmt.Errorf("create postgres audit sink: %w", err)
		}
		sinks = append(sinks, pgSink)
	}
	host, _ := os.Hostname()
	a.events = audit.NewLogger(audit.Config{
		Client:   audit.ClientContext{Service: cfg.ServiceName, Version: version, Host: host},
		Buffer:   cfg.Audit.Buffer,
		Recent:   cfg.Audit.Recent,
		Sinks:    sinks,
		Logger:   a.log,
		Observer: m.ObserveEvent,
	})

	var profiles httpserver.ProfileBackend
	var backendClient *backend.Client
	if cfg.Backend.URL != "" {
		c, err := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
		if err != nil {
			return fmt.Errorf("create backend client: %w", err)
		}
		backendClient = c
		profiles = c
	}

	roles, err := a.roleStore(backendClient)
	if err != nil {
		return err
	}

	a.sessions = a.sessionResolver(backendClient)
	a.auth = auth.NewAuthenticator(a.sessions, roles, a.events,
		auth.WithAuthLogger(a.log),
		auth.WithAuthTimeout(cfg.Backend.Timeout),
	)

	g, err := guard.New(guard.Config{
		Limiter: ratelimit.NewLimiter(ratelimit.WithDefaults(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)),
		Events:  a.events,
		Stats:   stats,
		Metrics: m,
		Logger:  a.log,
	})
	if err != nil {
		return fmt.Errorf("create guard: %w", err)
	}

	if cfg.RateLimit.EdgeRPS > 0 {
		a.throttle = ratelimit.NewTokenStore(cfg.RateLimit.EdgeRPS, cfg.RateLimit.EdgeBurst)
	}

	revoker, _ := a.sessions.(auth.SessionRevoker)
	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Service:        cfg.ServiceName,
		Version:        version,
		Guard:          g,
		Auth:           a.auth,
		Events:         a.events,
		Revoker:        revoker,
		Profiles:       profiles,
		Throttle:       a.throttle,
		Metrics:        m,
		Ready:          a.ready,
		Logger:         a.log,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	return nil
}

// sessionResolver validates access tokens with the backend. Without one no
// token can be verified, so every request is anonymous.
func (a *App) sessionResolver(client *backend.Client) auth.SessionResolver {
	if client != nil {
		return client
	}
	a.log.Warn("BACKEND_URL not set, access tokens cannot be verified and all requests are anonymous")
	return auth.NewInMemorySessionResolver()
}

// roleStore picks the authoritative role source: Postgres, then the remote
// backend, then an in-memory store seeded with the bootstrap admin.
func (a *App) roleStore(client *backend.Client) (auth.RoleStore, error) {
	ctx := context.Background()
	switch {
	case a.db != nil:
		s, err := auth.NewPostgresRoleStore(a.db)
		if err != nil {
			return nil, fmt.Errorf("create postgres role store: %w", err)
		}
		if a.cfg.BootstrapAdmin != "" {
			if err := s.Put(ctx, a.cfg.BootstrapAdmin, auth.RoleSuperAdmin); err != nil {
				return nil, fmt.Errorf("create bootstrap admin: %w", err)
			}
			a.log.Info("bootstrap admin role ensured", "user_id", a.cfg.BootstrapAdmin)
		}
		return s, nil
	case client != nil:
		if a.cfg.BootstrapAdmin != "" {
			a.log.Warn("ROLE_BOOTSTRAP_ADMIN ignored, roles come from the backend")
		}
		return client, nil
	default:
		s := auth.NewInMemoryRoleStore()
		if a.cfg.BootstrapAdmin != "" {
			if err := s.Put(a.cfg.BootstrapAdmin, auth.RoleSuperAdmin); err != nil {
				return nil, fmt.Errorf("create bootstrap admin: %w", err)
			}
			a.log.Info("bootstrap admin role created", "user_id", a.cfg.BootstrapAdmin)
		}
		return s, nil
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.closeStores()

	if a.throttle != nil {
		a.throttle.StartJanitor(ctx)
	}

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		if err := a.events.Close(shutdownCtx); err != nil {
			a.log.Warn("security event log did not drain", "error", err, "dropped", a.events.Dropped())
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

func (a *App) closeStores() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
