package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Centace/centace/internal/app/system"
	"github.com/Centace/centace/internal/config"
	"github.com/Centace/centace/internal/currency"
	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/errorlog"
	"github.com/Centace/centace/internal/mailer"
	"github.com/Centace/centace/internal/metrics"
	"github.com/Centace/centace/internal/notifications"
	"github.com/Centace/centace/internal/platform/migrations"
	"github.com/Centace/centace/internal/session"
	"github.com/Centace/centace/pkg/logger"
	"github.com/Centace/centace/supabase/client"
)

// Options overrides collaborators that New would otherwise build from the
// configuration. Tests use it to inject fakes.
type Options struct {
	Supabase          *client.Client
	NotificationStore notifications.Store
	Subscriber        notifications.Subscriber
	RateFetcher       currency.Fetcher
	RateStore         currency.RateStore
	ErrorStore        errorlog.Store
	SessionClock      session.Clock
	SignOut           func(ctx context.Context, accessToken string) error
	Metrics           *metrics.Metrics
}

// Application ties the components together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	started time.Time

	db    *sqlx.DB
	redis *redis.Client

	Config        *config.Config
	Metrics       *metrics.Metrics
	Reporter      *apperrors.Reporter
	Supabase      *client.Client
	Sessions      *session.Registry
	Notifications *notifications.Manager
	Hub           *notifications.Hub
	Currency      *currency.Converter
	ErrorLog      *errorlog.Service
	Mailer        *mailer.Mailer
}

// sessionEvent is pushed to the browser over the notification stream.
type sessionEvent struct {
	Kind        string `json:"kind"`
	RemainingMs int64  `json:"remaining_ms,omitempty"`
}

// New builds a fully wired application. Optional infrastructure (Postgres,
// Redis, SMTP) is only connected when configured.
func New(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	a := &Application{
		manager: system.NewManager(),
		log:     log,
		started: time.Now(),
		Config:  cfg,
		Metrics: opts.Metrics,
	}
	if a.Metrics == nil {
		a.Metrics = metrics.New()
	}

	a.Reporter = apperrors.NewReporter(apperrors.ReporterConfig{
		Endpoint:    cfg.App.ErrorLoggingEndpoint,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
	}, log.Named("error-reporter"))

	if err := a.buildSupabase(opts); err != nil {
		return nil, err
	}
	if err := a.buildStorage(ctx, opts); err != nil {
		a.closeInfra()
		return nil, err
	}
	if err := a.buildNotifications(opts); err != nil {
		a.closeInfra()
		return nil, err
	}
	if err := a.buildSessions(opts); err != nil {
		a.closeInfra()
		return nil, err
	}
	if err := a.buildCurrency(opts); err != nil {
		a.closeInfra()
		return nil, err
	}
	a.buildMailer()

	return a, nil
}

func (a *Application) buildSupabase(opts Options) error {
	if opts.Supabase != nil {
		a.Supabase = opts.Supabase
		return nil
	}
	key := a.Config.Supabase.ServiceKey
	if key == "" {
		key = a.Config.Supabase.AnonKey
	}
	if key == "" {
		a.log.Warn("no Supabase key configured; backend calls will fail")
		key = "unset"
	}
	resilience := &client.ResilientClientConfig{
		RetryConfig:          client.DefaultRetryConfig(),
		CircuitBreakerConfig: client.DefaultCircuitBreakerConfig(),
	}
	c, err := client.New(client.Config{URL: a.Config.Supabase.URL, APIKey: key, Resilience: resilience})
	if err != nil {
		return fmt.Errorf("configure supabase client: %w", err)
	}
	a.Supabase = c
	return nil
}

func (a *Application) buildStorage(ctx context.Context, opts Options) error {
	cfg := a.Config.Storage

	errStore := opts.ErrorStore
	if errStore == nil && cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if err := migrations.Apply(ctx, db.DB); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		errStore = errorlog.NewSQLStore(db)
	}
	if errStore == nil {
		a.log.Info("DATABASE_URL not set; error logs kept in memory")
		errStore = errorlog.NewMemoryStore(0)
	}

	hasher, err := errorlog.NewIPHasher(cfg.ErrorLogHashKey)
	if err != nil {
		return fmt.Errorf("configure ip hasher: %w", err)
	}
	a.ErrorLog = errorlog.NewService(errStore, hasher, a.Config.App.Environment, a.Metrics, a.log.Named("error-log"))
	return a.manager.Register(errorlog.NewPruner(errStore, cfg.ErrorLogRetention, a.log.Named("error-log-pruner")))
}

func openDatabase(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Application) buildNotifications(opts Options) error {
	a.Hub = notifications.NewHub(a.checkOrigin, a.log.Named("notification-hub"))

	store := opts.NotificationStore
	if store == nil {
		store = notifications.NewSupabaseStore(a.Supabase, 0)
	}
	sub := opts.Subscriber
	if sub == nil {
		rt := client.NewRealtimeClient(a.Supabase.URL(), a.Supabase.APIKey())
		rt.SetAuth(a.Supabase.APIKey())
		rs := notifications.NewRealtimeSubscriber(rt)
		sub = rs
		if err := a.manager.Register(system.Func{
			ServiceName: "supabase-realtime",
			OnStop:      func(context.Context) error { return rs.Close() },
		}); err != nil {
			return err
		}
	}

	a.Notifications = notifications.NewManager(store, sub, notifications.Options{
		Toaster:  a.Hub,
		Reporter: a.Reporter,
		Metrics:  a.Metrics,
	}, a.log.Named("notifications"))
	return a.manager.Register(a.Notifications)
}

// checkOrigin admits WebSocket upgrades from configured CORS origins.
func (a *Application) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.Config.HTTP.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == a.Config.App.URL
}

func (a *Application) buildSessions(opts Options) error {
	signOut := opts.SignOut
	if signOut == nil {
		auth := a.Supabase.Auth()
		signOut = func(ctx context.Context, token string) error {
			return auth.SignOut(ctx, token, "local")
		}
	}

	a.Sessions = session.NewRegistry(session.RegistryConfig{
		Timeout:          a.Config.Session.Timeout,
		WarningLead:      a.Config.Session.Warning,
		ExpiredRetention: a.Config.Session.ExpiredRetention,
		Clock:            opts.SessionClock,
		Hooks: session.Hooks{
			SignOut: func(ctx context.Context, userID, token string) error {
				if token == "" {
					return nil
				}
				err := signOut(ctx, token)
				a.Metrics.SessionLogout(err == nil)
				return err
			},
			Expired: func(ctx context.Context, userID string) {
				a.Hub.Publish(userID, sessionEvent{Kind: "session_expired"})
				a.Hub.Disconnect(userID)
				if err := a.Notifications.Close(ctx, userID); err != nil {
					a.log.WithError(err).WithField("user_id", userID).Warn("close notification sync")
				}
				a.Metrics.SetSessionsTracked(a.Sessions.Len())
			},
			Warning: func(userID string, remaining time.Duration) {
				a.Metrics.SessionWarning()
				a.Hub.Publish(userID, sessionEvent{Kind: "session_warning", RemainingMs: remaining.Milliseconds()})
			},
		},
	}, a.log.Named("session"))
	return a.manager.Register(a.Sessions)
}

func (a *Application) buildCurrency(opts Options) error {
	cfg := a.Config.Currency

	store := opts.RateStore
	if store == nil && a.Config.Storage.RedisURL != "" {
		redisOpts, err := redis.ParseURL(a.Config.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(redisOpts)
		store = currency.NewRedisStore(a.redis, "", 0)
	}

	fetcher := opts.RateFetcher
	if fetcher == nil && cfg.RateAPIURL != "" {
		fetcher = currency.NewHTTPFetcher(cfg.RateAPIURL, nil)
	}

	a.Currency = currency.NewConverter(currency.Config{
		Base:    cfg.Base,
		TTL:     cfg.TTL,
		Fetcher: fetcher,
		Store:   store,
		Metrics: a.Metrics,
	}, a.log.Named("currency"))

	if fetcher == nil {
		a.log.Warn("RATE_API_URL not set; currency refresher disabled")
		return nil
	}
	return a.manager.Register(currency.NewRefresher(a.Currency, cfg.RefreshSchedule, a.log.Named("currency-refresher")))
}

func (a *Application) buildMailer() {
	smtp := a.Config.SMTP
	if smtp.User == "" && smtp.From == "" {
		return
	}
	m, err := mailer.New(mailer.Config{
		Host:     smtp.Host,
		Port:     smtp.Port,
		User:     smtp.User,
		Password: smtp.Password,
		From:     smtp.From,
	}, a.log.Named("mailer"))
	if err != nil {
		a.log.WithError(err).Warn("mailer disabled")
		return
	}
	a.Mailer = m
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	a.log.WithField("services", a.manager.Names()).Info("starting services")
	return a.manager.Start(ctx)
}

// Stop stops all services and releases connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Reporter.Wait()
	a.closeInfra()
	return err
}

func (a *Application) closeInfra() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
}

// Uptime reports how long the application has existed.
func (a *Application) Uptime() time.Duration { return time.Since(a.started) }

// DB returns the local database handle, or nil when none is configured.
func (a *Application) DB() *sqlx.DB { return a.db }

// Redis returns the cache client, or nil when none is configured.
func (a *Application) Redis() *redis.Client { return a.redis }

// Logger returns the application logger.
func (a *Application) Logger() *logger.Logger { return a.log }
