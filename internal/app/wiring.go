package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"validator-watch/internal/events"
	"validator-watch/internal/metrics"
	"validator-watch/internal/monitor"
	"validator-watch/internal/service"
	"validator-watch/internal/slotskip"
	"validator-watch/internal/solana"
	"validator-watch/internal/status"
	"validator-watch/internal/storage"
	"validator-watch/internal/timerqueue"
	"validator-watch/internal/votecredit"
)

const (
	busCapacity   = 64
	gaugeInterval = 15 * time.Second
)

// buildService wires every component onto the event bus and the job runner.
func (a *App) buildService(ctx context.Context, store *storage.Store, clients map[solana.Network]*solana.Client, reg *prometheus.Registry, m *metrics.Metrics) (*service.Service, error) {
	cfg := a.Config
	mainnet, ok := clients[solana.Mainnet]
	if !ok {
		return nil, fmt.Errorf("solana.mainnet.rpc_url must be set")
	}

	dir := a.newDirectory()
	if err := dir.Refresh(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("initial validator list load incomplete")
	}

	dispatcher, err := a.newDispatcher(store, store, m)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(busCapacity, a.Logger)
	queue := timerqueue.New(timerqueue.Options{}, a.Logger)

	countEvent := func(_ context.Context, ev events.Event) error {
		m.IncBusEvent(string(ev.Kind))
		return nil
	}
	bus.Subscribe(events.EpochChanged, countEvent)
	bus.Subscribe(events.SubscriptionChanged, countEvent)
	// Identities can rotate between epochs, so the list is reloaded before rescheduling.
	bus.Subscribe(events.EpochChanged, func(ctx context.Context, _ events.Event) error {
		return dir.Refresh(ctx)
	})

	rpcs := make(map[solana.Network]solana.RPC, len(clients))
	epochReaders := make(map[solana.Network]monitor.EpochReader, len(clients))
	voteReaders := make(map[solana.Network]monitor.VoteAccountReader, len(clients))
	for network, c := range clients {
		rpcs[network] = c
		epochReaders[network] = c
		voteReaders[network] = c
	}

	skipOpts := slotskip.OptionsFromConfig(cfg.SlotSkip)
	skipOpts.OnCheck = func(network solana.Network, outcome string) {
		m.ObserveSlotCheck(string(network), outcome)
	}
	skips := slotskip.New(skipOpts, rpcs, store, dir, queue, dispatcher, a.Logger)
	if cfg.SlotSkip.Enabled {
		skips.Register(bus)
	}

	subs := monitor.NewSubscriptionPoller(store, bus, solana.Networks, a.Logger)
	if err := subs.Seed(ctx); err != nil {
		return nil, fmt.Errorf("seed subscriptions: %w", err)
	}

	svc := service.New(service.Options{
		StartupDelay: cfg.Monitor.StartupDelay,
		LockKey:      cfg.Database.AdvisoryLockKey,
		OnTick:       m.ObserveJob,
	}, store, a.Logger)

	svc.AddTask("event_bus", bus.Run)
	svc.AddTask("timer_queue", queue.Run)
	if cfg.SlotSkip.Enabled {
		svc.AddTask("initial_schedule", func(ctx context.Context) error {
			if err := skips.RescheduleAll(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("initial skip check scheduling incomplete")
			}
			return nil
		})
	}
	if cfg.Status.Enabled {
		router := status.NewRouter(queue, reg, store.Ping)
		svc.AddTask("status_server", status.New(cfg.Status.ListenAddr, router, a.Logger).Run)
	}

	epochs := monitor.NewEpochPoller(epochReaders, bus, a.Logger)
	svc.AddJob(service.Job{Name: "epoch", Interval: cfg.Monitor.EpochInterval, Immediate: true, Tick: epochs.Poll})
	svc.AddJob(service.Job{Name: "subscriptions", Interval: cfg.Monitor.SubscriptionInterval, Tick: subs.Poll})

	delinquency := monitor.NewDelinquencyMonitor(voteReaders, store, dir, dispatcher, a.Logger)
	svc.AddJob(service.Job{Name: "delinquency", Interval: cfg.Monitor.DelinquencyInterval, Immediate: true, Tick: delinquency.Check})

	balance := monitor.NewBalanceTracker(monitor.BalanceOptions{
		Kind:             storage.BalanceIdentity,
		Network:          solana.Mainnet,
		DefaultThreshold: decimal.NewFromFloat(cfg.Thresholds.BalanceDefault),
	}, mainnet, store, dir, dispatcher, a.Logger)
	svc.AddJob(service.Job{Name: "balance", Interval: cfg.Monitor.BalanceInterval, Immediate: true, Tick: balance.Check})

	if cfg.PDA.Enabled {
		programID, err := solana.ParsePublicKey(cfg.PDA.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("pda.program_id: %w", err)
		}
		dz := monitor.NewDZClient(cfg.PDA.DZBaseURL, cfg.PDA.DZAPIToken, cfg.PDA.RequestTimeout, a.Logger)
		pda := monitor.NewBalanceTracker(monitor.BalanceOptions{
			Kind:             storage.BalancePDA,
			Network:          solana.Mainnet,
			DefaultThreshold: decimal.NewFromFloat(cfg.Thresholds.PDADefault),
			Resolve:          monitor.PDAResolver(dz, programID, cfg.PDA.Seed),
		}, mainnet, store, dir, dispatcher, a.Logger)
		svc.AddJob(service.Job{Name: "pda_balance", Interval: cfg.Monitor.PDAInterval, Immediate: true, Tick: pda.Check})
	}

	if cfg.VoteCredit.Enabled {
		scraper := votecredit.NewScraper(votecredit.Options{
			BaseURL:           cfg.VoteCredit.BaseURL,
			Timeout:           cfg.VoteCredit.RequestTimeout,
			RequestsPerSecond: cfg.VoteCredit.RequestsPerSecond,
			UserAgent:         cfg.VoteCredit.UserAgent,
		}, a.Logger)
		sampler := votecredit.NewSampler(votecredit.SamplerOptions{
			Network:     solana.Mainnet,
			Window:      cfg.VoteCredit.Window,
			Floor:       cfg.VoteCredit.Floor,
			Concurrency: cfg.Monitor.MaxConcurrency,
			TaskTimeout: cfg.VoteCredit.RequestTimeout,
		}, scraper, mainnet, store, dir, dispatcher, a.Logger)
		svc.AddJob(service.Job{Name: "vote_credit", Interval: cfg.Monitor.VoteCreditInterval, Tick: sampler.Sample})
	}

	svc.AddJob(service.Job{Name: "directory", Interval: cfg.Monitor.DirectoryInterval, Tick: func(ctx context.Context, _ time.Time) error {
		return dir.Refresh(ctx)
	}})
	svc.AddJob(service.Job{Name: "pending_checks", Interval: gaugeInterval, Tick: func(context.Context, time.Time) error {
		counts := make(map[string]int, len(solana.Networks))
		for _, network := range solana.Networks {
			counts[string(network)] = 0
		}
		for network, n := range queue.Counts() {
			counts[string(network)] = n
		}
		m.SetPendingChecks(counts)
		return nil
	}})

	return svc, nil
}
