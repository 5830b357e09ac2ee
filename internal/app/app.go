package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"validator-watch/internal/alerting"
	"validator-watch/internal/config"
	"validator-watch/internal/directory"
	"validator-watch/internal/metrics"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the store or fails when no database is configured.
func (a *App) requireStore(ctx context.Context, action string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured; cannot %s", action)
	}
	return store, closeStore, nil
}

// newClients dials one RPC client per network. m may be nil.
func (a *App) newClients(m *metrics.Metrics) map[solana.Network]*solana.Client {
	clients := make(map[solana.Network]*solana.Client, len(solana.Networks))
	for _, network := range solana.Networks {
		cfg, err := a.Config.Network(string(network))
		if err != nil || cfg.RPCURL == "" {
			continue
		}
		clients[network] = solana.NewClient(solana.ClientOptions{
			Network:           network,
			RPCURL:            cfg.RPCURL,
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Observer: func(network solana.Network, method string, elapsed time.Duration, err error) {
				m.ObserveRPC(string(network), method, elapsed, err)
			},
		}, a.Logger)
	}
	return clients
}

func closeClients(clients map[solana.Network]*solana.Client) {
	for _, c := range clients {
		c.Close()
	}
}

func (a *App) newDirectory() *directory.Directory {
	return directory.New(directory.Options{
		BaseURL:           a.Config.Directory.BaseURL,
		Timeout:           a.Config.Directory.RequestTimeout,
		RequestsPerSecond: a.Config.Directory.RequestsPerSecond,
	}, a.Logger)
}

// newDispatcher wires every configured sender. m may be nil.
func (a *App) newDispatcher(contacts alerting.Contacts, log alerting.DeliveryLog, m *metrics.Metrics) (*alerting.Dispatcher, error) {
	senders, err := alerting.BuildSenders(a.Config.Alerting, a.Logger)
	if err != nil {
		return nil, err
	}
	if len(senders) == 0 {
		a.Logger.Warn().Msg("no alerting channel enabled; notifications are only logged")
	}
	return alerting.NewDispatcher(alerting.DispatcherOptions{
		SendTimeout: a.Config.Alerting.SendTimeout,
		Observer: func(ch alerting.Channel, sig alerting.Signal, status string) {
			m.ObserveDelivery(string(ch), string(sig), status)
		},
	}, contacts, log, senders, a.Logger), nil
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := errors.Join(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	); err != nil {
		return nil, nil, err
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "run the monitor")
	if err != nil {
		return err
	}
	defer closeStore()

	reg, m, err := newRegistry()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	clients := a.newClients(m)
	defer closeClients(clients)

	svc, err := a.buildService(ctx, store, clients, reg, m)
	if err != nil {
		return err
	}

	a.Logger.Info().Strs("jobs", svc.Jobs()).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting balance history.
type ExportOptions struct {
	VoteAddress string
	Kind        storage.BalanceKind
	From        *time.Time
	To          *time.Time
	PNGPath     string
	CSVPath     string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Network solana.Network
	Limit   int
}

// PruneOptions configure notification log cleanup.
type PruneOptions struct {
	Before time.Time
}
