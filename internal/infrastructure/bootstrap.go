package infrastructure

import (
	"context"

	"credo/internal/config"
	"credo/internal/ledger"
	"credo/internal/repository"
	"credo/internal/service"
	transportHTTP "credo/internal/transport/http"
	transportNATS "credo/internal/transport/nats"
	"credo/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error. Lifecycle
// of every handle is owned here; nothing reaches for globals.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Ledger core ────────────────────────────────────────────────────────────
	cache := repository.NewBalanceCache(rdb)
	bus := transportNATS.NewBus(nc)
	repo := repository.NewLedgerRepo(db, cache, bus, ledger.CalendarMonthUTC)
	var svc service.CreditService = repo

	// ── Batch jobs ─────────────────────────────────────────────────────────────
	reconciler := worker.NewReconciler(repo, cfg.ChunkSize)
	scheduler := worker.NewScheduler(repo, reconciler, cfg.ChunkSize, worker.FreeGrant{
		Credits:    cfg.FreeMonthlyCredits,
		ExpireDays: cfg.FreeCreditExpireDays,
	})
	jobs := &worker.Jobs{Scheduler: scheduler, Reconciler: reconciler}

	// ── Servers ────────────────────────────────────────────────────────────────
	servers := []Server{
		worker.NewRunner(jobs, nc, cfg.DistributeInterval),
		transportNATS.NewHandler(svc, nc),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, jobs))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
