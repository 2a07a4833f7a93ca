package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acme/power-dialer/internal/api/handlers"
	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/dialer"
	"github.com/acme/power-dialer/internal/infra/db"
	"github.com/acme/power-dialer/internal/infra/redis"
	"github.com/acme/power-dialer/internal/janitor"
	"github.com/acme/power-dialer/internal/queue"
	"github.com/acme/power-dialer/internal/repository"
	pgrepo "github.com/acme/power-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/power-dialer/internal/repository/scylla"
	"github.com/acme/power-dialer/internal/script"
	"github.com/acme/power-dialer/internal/service/lease"
	listsvc "github.com/acme/power-dialer/internal/service/list"
	"github.com/acme/power-dialer/internal/service/presence"
	"github.com/acme/power-dialer/internal/telephony"
	telephonyMock "github.com/acme/power-dialer/internal/telephony/mock"
	"github.com/acme/power-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *repositories
		services     *services
		publisher    *queue.EventPublisher
		manager      *dialer.Manager
		janitor      *janitor.Janitor
	}
}

type repositories struct {
	Contacts     repository.ContactRepository
	Dispositions repository.DispositionStore
	LineEvents   repository.LineEventStore
	Runs         repository.RunArchive
}

type services struct {
	Lists    *listsvc.Service
	Presence *presence.Registry
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = scylla.Close()
		_ = pg.Close()
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		_ = redisClient.Close()
		_ = scylla.Close()
		_ = pg.Close()
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		repos := &repositories{
			Contacts:     pgrepo.NewContactRepository(c.Postgres.DB()),
			Dispositions: scyllarepo.NewDispositionStore(c.Scylla.Session()),
			LineEvents:   scyllarepo.NewLineEventStore(c.Scylla.Session()),
			Runs:         pgrepo.NewRunArchiveRepository(c.Postgres.DB()),
		}

		svcs := &services{
			Lists:    listsvc.NewService(repos.Contacts, repos.Dispositions, repos.LineEvents),
			Presence: presence.NewRegistry(c.Logger),
		}

		signaler, err := newSignaler(c.Config)
		if err != nil {
			c.components.err = err
			return
		}

		publisher := queue.NewEventPublisher(c.Kafka, c.Logger.Named("events"))
		locker := lease.NewLocker(c.Redis.Inner(), c.Config.Redis.LeasePrefix, c.Config.Redis.LeaseTTL)

		manager := dialer.NewManager(c.Config.Dialer, dialer.Dependencies{
			Contacts:     repos.Contacts,
			Dispositions: repos.Dispositions,
			Signaler:     signaler,
			Renderer:     script.NewRenderer(),
			Events:       publisher,
			Presence:     svcs.Presence,
			Clock:        clock.Real{},
			Logger:       c.Logger,
		}, dialer.WithListLocker(locker, locker.TTL()/3))

		c.components.repositories = repos
		c.components.services = svcs
		c.components.publisher = publisher
		c.components.manager = manager
		c.components.janitor = janitor.New(manager, repos.Runs, c.Config.Janitor, clock.Real{}, c.Logger)
	})
	return c.components.err
}

// newSignaler picks the call bridge. Only the simulated provider ships today.
func newSignaler(cfg *config.Config) (telephony.Signaler, error) {
	switch cfg.CallBridge.ProviderName {
	case "", "simulated", "mock":
		return telephonyMock.NewProvider(clock.Real{}, cfg.Dialer.DialDelay, cfg.Dialer.RingDelay), nil
	default:
		return nil, fmt.Errorf("app: unknown call bridge provider %q", cfg.CallBridge.ProviderName)
	}
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() (*repositories, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*services, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// Manager exposes the run manager.
func (c *Container) Manager() (*dialer.Manager, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.manager, nil
}

// Janitor exposes the finished-run janitor.
func (c *Container) Janitor() (*janitor.Janitor, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.janitor, nil
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() (*handlers.HandlerSet, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return handlers.NewHandlerSet(handlers.Dependencies{
		Runs:     c.components.manager,
		Lists:    c.components.services.Lists,
		Presence: c.components.services.Presence,
		Archive:  c.components.repositories.Runs,
		Health: map[string]handlers.Pinger{
			"postgres": c.Postgres,
			"scylla":   c.Scylla,
			"redis":    c.Redis,
		},
		Logger: c.Logger,
	}), nil
}

// Migrate applies the Postgres and Scylla schemas.
func (c *Container) Migrate(ctx context.Context) error {
	if err := c.Postgres.Migrate(ctx); err != nil {
		return err
	}
	return c.Scylla.Migrate(ctx)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if m := c.components.manager; m != nil {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("manager close: %w", err))
		}
	}
	if p := c.components.publisher; p != nil {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}

// EnsureTopics creates the line event topic when missing.
func (c *Container) EnsureTopics(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.Kafka.EnsureEventTopic(ctx, 12)
}
