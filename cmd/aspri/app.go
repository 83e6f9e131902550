package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/chat"
	"github.com/opentalon/aspri/internal/config"
	"github.com/opentalon/aspri/internal/executor"
	"github.com/opentalon/aspri/internal/failover"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/metrics"
	"github.com/opentalon/aspri/internal/orchestrator"
	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/plugin"
	"github.com/opentalon/aspri/internal/provider"
	"github.com/opentalon/aspri/internal/state"
	"github.com/opentalon/aspri/internal/state/redisstore"
	"github.com/opentalon/aspri/internal/state/store"
	"github.com/opentalon/aspri/internal/sweeper"
)

// memoryThreadCap bounds each in-memory thread in ephemeral mode.
const memoryThreadCap = 500

// app owns every long-lived component of the process.
type app struct {
	logger    *zap.Logger
	loc       *time.Location
	storeKind string

	db         *store.DB
	rdb        *redis.Client
	memThreads *state.ThreadStore
	metrics    *metrics.Metrics
	sweeper    *sweeper.Sweeper
	host       *plugin.Host
	server     *http.Server
	chat       *chat.Service
}

func build(ctx context.Context, cfg *config.Config, ephemeral bool, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.loc, err = cfg.Chat.Location()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.Pending.TTLDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Chat.Timeout()
	if err != nil {
		return nil, err
	}

	model, llm, err := primaryProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.db, err = store.Open(store.Options{Driver: cfg.Store.Driver, DataDir: cfg.Store.DataDir, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, err
	}

	var (
		pendingStore pending.Store
		threads      chat.Threads
	)
	switch {
	case ephemeral:
		a.storeKind = "memory"
		pendingStore = pending.NewMemoryStore()
		a.memThreads = state.NewThreadStore(filepath.Join(cfg.Store.DataDir, "threads"), memoryThreadCap)
		threads = a.memThreads
	case cfg.Pending.Backend == config.PendingRedis:
		a.storeKind = cfg.Store.Driver + "+redis"
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Pending.RedisAddr, DB: cfg.Pending.RedisDB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Pending.RedisAddr, err)
		}
		retention, _ := cfg.Pending.RetentionDuration()
		pendingStore = redisstore.New(a.rdb, redisstore.DefaultPrefix, redisstore.WithRetention(retention))
		threads = store.NewThreadStore(a.db)
	default:
		a.storeKind = cfg.Store.Driver
		pendingStore = store.NewPendingStore(a.db)
		threads = store.NewThreadStore(a.db)
	}

	machine := pending.NewMachine(pendingStore,
		pending.WithTTL(ttl),
		pending.WithLogger(logger),
		pending.WithObserver(func(to pending.Status) { a.metrics.PendingTransition(string(to)) }),
	)

	host := plugin.NewHost(state.NewPluginStateStore(filepath.Join(cfg.Store.DataDir, "plugins")), logger)
	a.host = host
	if err := host.LoadAll(cfg.Plugins); err != nil {
		// A broken plugin only loses its own actions.
		logger.Warn("aspri: plugins", zap.Error(err))
	}

	exec := executor.New(executor.Deps{
		Finance:   store.NewFinanceStore(a.db),
		Schedules: store.NewScheduleStore(a.db),
		Notes:     store.NewNoteStore(a.db),
		Plugins:   host,
	}, executor.WithLocation(a.loc), executor.WithLogger(logger))

	classifier := intent.NewClassifier(llm, model.Model(),
		intent.WithHistory(cfg.Chat.ClassifierHistory),
		intent.WithLogger(logger),
		intent.WithFailureHook(a.metrics.ProviderFailure),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Classifier:   classifier,
		Capabilities: capability.NewRegistry(nil, host, logger),
		Pending:      machine,
		Executor:     exec,
		Profiles:     store.NewProfileStore(a.db),
		Provider:     llm,
		Model:        model.Model(),
	},
		orchestrator.WithRules(cfg.Rules),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithProviderTimeout(timeout),
		orchestrator.WithLogger(logger),
		orchestrator.WithPersonalize(cfg.Chat.Personalize),
	)

	a.chat = chat.NewService(threads, orch,
		chat.WithHistoryWindow(cfg.Chat.HistoryWindow),
		chat.WithLogger(logger),
	)

	a.sweeper, err = sweeper.New(machine,
		sweeper.WithSchedule(cfg.Pending.Sweep),
		sweeper.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		a.server = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return a, nil
}

// primaryProvider registers every configured provider and returns the
// primary model behind a failover chain over models.fallbacks.
func primaryProvider(cfg *config.Config, logger *zap.Logger) (provider.ModelRef, provider.Provider, error) {
	reg := provider.NewRegistry()
	for _, pc := range cfg.ProviderConfigs() {
		p, err := provider.FromConfig(pc, logger)
		if err != nil {
			return "", nil, err
		}
		if err := reg.Register(p); err != nil {
			return "", nil, err
		}
	}
	ref, err := provider.ParseModelRef(cfg.Models.Primary)
	if err != nil {
		return "", nil, err
	}
	if _, err := reg.GetForModel(ref); err != nil {
		return "", nil, err
	}
	var fallbacks []provider.ModelRef
	for _, f := range cfg.Models.Fallbacks {
		fref, err := provider.ParseModelRef(f)
		if err != nil {
			return "", nil, err
		}
		fallbacks = append(fallbacks, fref)
	}
	return ref, failover.NewController(reg, ref, fallbacks, failover.WithLogger(logger)), nil
}

func (a *app) start() error {
	if _, err := a.sweeper.RunOnce(context.Background()); err != nil {
		a.logger.Warn("aspri: initial sweep failed", zap.Error(err))
	}
	if err := a.sweeper.Start(); err != nil {
		return err
	}

	if a.server != nil {
		go func() {
			a.logger.Info("aspri: metrics listening", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("aspri: metrics server", zap.Error(err))
			}
		}()
	}
	return nil
}

// saveThread writes an ephemeral thread to disk so it can be read later.
func (a *app) saveThread(threadID string) {
	if a.memThreads == nil {
		return
	}
	if err := a.memThreads.Save(threadID); err != nil {
		a.logger.Debug("aspri: thread not saved", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (a *app) close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.host != nil {
		a.host.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
