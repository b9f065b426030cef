package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stablemint/reservegate/internal/events"
	"github.com/stablemint/reservegate/internal/feeds"
	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
	httpapi "github.com/stablemint/reservegate/internal/interfaces/http"
	"github.com/stablemint/reservegate/internal/ledger"
	"github.com/stablemint/reservegate/internal/persistence"
	"github.com/stablemint/reservegate/internal/persistence/postgres"
	"github.com/stablemint/reservegate/internal/status"
)

// Service owns every component of a running gate node. Construction wires
// the whole stack; Run serves HTTP until the context is cancelled; Close
// releases the backend connections.
type Service struct {
	cfg      *Config
	log      zerolog.Logger
	token    *ledger.Token
	registry *feeds.Registry
	gate     *gate.Gate
	guard    *guard.IssuanceGuard
	hub      *httpapi.Hub
	metrics  *httpapi.Metrics
	server   *httpapi.Server

	db  *sqlx.DB
	rdb *redis.Client
	pub events.Publisher
}

// NewService wires a service from its configuration. Backends with no
// configured address are left out: without postgres decisions are not
// journaled, without redis nothing is mirrored, without nats no events are
// published. The gate and guard work identically either way.
func NewService(ctx context.Context, cfg *Config, version string, logger zerolog.Logger) (*Service, error) {
	registry, err := BuildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:      cfg,
		log:      logger,
		token:    ledger.NewToken(cfg.Asset.Name, cfg.Asset.Symbol, cfg.Asset.Decimals),
		registry: registry,
		metrics:  httpapi.NewMetrics(),
	}
	svc.hub = httpapi.NewHub(svc.metrics, logger)

	notifiers := []gate.Notifier{svc.hub}
	sinks := []guard.Sink{svc.metrics, svc.hub}

	var journal persistence.DecisionJournal
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		svc.db = db
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			svc.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		journal = postgres.NewDecisionJournal(db, cfg.Postgres.Timeout())
		audit := postgres.NewGateAudit(db, cfg.Postgres.Timeout())
		sinks = append(sinks, persistence.NewJournalSink(journal))
		notifiers = append(notifiers, persistence.NewAuditNotifier(audit))
		logger.Info().Msg("decision journal enabled")
	}

	var mirror *status.Mirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			svc.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		svc.rdb = rdb
		mirror = status.NewMirror(rdb, cfg.Redis.TTL())
		sinks = append(sinks, mirror)
		notifiers = append(notifiers, mirror)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("status mirror enabled")
	}

	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		svc.pub = pub
		notifiers = append(notifiers, events.NewGateNotifier(pub))
		sinks = append(sinks, events.NewDecisionPublisher(pub))
		logger.Info().Str("url", cfg.NATS.URL).Msg("event publisher enabled")
	}

	g, err := gate.New(gate.Config{Admin: cfg.Gate.Admin, MaxAge: cfg.Gate.MaxAge()}, logger, notifiers...)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("gate: %w", err)
	}
	svc.gate = g

	if mirror != nil {
		mirror.BindGate(g.Snapshot)
		if err := mirror.SetGate(ctx, g.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("initial gate mirror write failed")
		}
	}

	if err := svc.applyGateConfig(ctx); err != nil {
		svc.Close()
		return nil, err
	}

	svc.guard = guard.New(guard.Config{
		Gate:   g,
		Ledger: svc.token,
		Logger: logger,
		Sinks:  sinks,
	})

	handlers := httpapi.NewHandlers(httpapi.HandlersConfig{
		Gate:    g,
		Guard:   svc.guard,
		Token:   svc.token,
		Feeds:   registry,
		Journal: journal,
		Mirror:  mirror,
		Version: version,
		Logger:  logger,
	})

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		AdminToken:   cfg.Server.AdminToken,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}, handlers, svc.hub, svc.metrics, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.server = server

	return svc, nil
}

// BuildRegistry constructs the feed registry the config describes. Static
// feeds with a configured value are seeded with an observation stamped at
// build time, so they age out like any real attestation.
func BuildRegistry(cfg *Config, logger zerolog.Logger) (*feeds.Registry, error) {
	registry := feeds.NewRegistry()
	for _, fc := range cfg.Feeds {
		var adapter feeds.Adapter
		switch fc.Kind {
		case FeedKindStatic:
			sf := feeds.NewStaticFeed(fc.Name, fc.Decimals)
			if fc.Value != "" {
				if err := sf.SetString(fc.Value, time.Now()); err != nil {
					return nil, fmt.Errorf("feed %s: %w", fc.Name, err)
				}
			}
			adapter = sf
		case FeedKindHTTP:
			adapter = feeds.NewHTTPFeed(feeds.HTTPConfig{
				Name:              fc.Name,
				URL:               fc.URL,
				AuthToken:         fc.AuthToken,
				Timeout:           fc.Timeout(),
				RequestsPerMinute: fc.RequestsPerMinute,
			}, logger)
		default:
			return nil, fmt.Errorf("feed %s: unknown kind %q", fc.Name, fc.Kind)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("register feed %s: %w", fc.Name, err)
		}
	}
	return registry, nil
}

// applyGateConfig pushes the configured startup feed and heartbeat through
// the admin path, so boot state is audited like any runtime change.
func (s *Service) applyGateConfig(ctx context.Context) error {
	if s.cfg.Gate.Feed != "" {
		adapter, err := s.registry.Get(s.cfg.Gate.Feed)
		if err != nil {
			return fmt.Errorf("configured gate feed: %w", err)
		}
		if err := s.gate.SetFeed(ctx, s.cfg.Gate.Admin, adapter); err != nil {
			return fmt.Errorf("configured gate feed: %w", err)
		}
	}
	if s.cfg.Gate.HeartbeatSeconds > 0 {
		if err := s.gate.SetHeartbeat(ctx, s.cfg.Gate.Admin, s.cfg.Gate.Heartbeat()); err != nil {
			return fmt.Errorf("configured heartbeat: %w", err)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (s *Service) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close releases the hub and backend connections. Safe to call on a
// partially constructed service.
func (s *Service) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing event publisher")
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing postgres pool")
		}
	}
}

// Gate exposes the gate for command surfaces and tests.
func (s *Service) Gate() *gate.Gate { return s.gate }

// Guard exposes the issuance guard.
func (s *Service) Guard() *guard.IssuanceGuard { return s.guard }

// Token exposes the in-memory ledger.
func (s *Service) Token() *ledger.Token { return s.token }

// Feeds exposes the feed registry.
func (s *Service) Feeds() *feeds.Registry { return s.registry }

// Router exposes the HTTP handler, for tests that drive the API in-process.
func (s *Service) Router() http.Handler { return s.server.Router() }

// Address returns the host:port the HTTP server binds to.
func (s *Service) Address() string { return s.server.Address() }
