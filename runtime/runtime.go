// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/claude-flow/v3/background"
	"github.com/claude-flow/v3/breaker"
	"github.com/claude-flow/v3/cache"
	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
	"github.com/claude-flow/v3/handoff"
	"github.com/claude-flow/v3/provider"
	"github.com/claude-flow/v3/store"
	"github.com/claude-flow/v3/worker"
)

// Runtime wires the cache optimizer (C1-C5), the handoff manager with
// its background process handler (C6-C9) and the worker daemon (C10)
// into a single running system bound to one persistent store.
type Runtime struct {
	cfg Config

	Cache     *cache.Optimizer
	Handoff   *handoff.Manager
	Workers   *worker.Daemon
	Bus       *EventBus
	Telemetry *Telemetry

	store    store.Store
	runner   *background.Runner
	registry *provider.CatwalkRegistry
}

// New builds every component from cfg but starts nothing; call
// Initialize to begin background work.
func New(cfg Config) (*Runtime, error) {
	if cfg.WorkDir == "" {
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("runtime: workDir is required"))
	}

	telemetry, err := initTelemetry(cfg.Telemetry, cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := buildStore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	catwalkRegistry := provider.NewCatwalkRegistry()
	optimizer := cache.NewOptimizer(buildOptimizerConfig(cfg))

	breakerRegistry := breaker.NewRegistry(breaker.DefaultCircuitBreakerConfig(), breaker.DefaultRateLimiterConfig())
	dispatcher := provider.NewDispatcher(catwalkRegistry)
	costTable := provider.NewCostTable(catwalkRegistry)

	bus := NewEventBus()

	// manager is constructed after runner (the Launcher it needs), while
	// runner needs the manager's OnBackgroundComplete as its OnComplete
	// callback; managerRef breaks the cycle, set once manager exists
	// below and safe to read thereafter since the runner never invokes
	// OnComplete from within NewRunner itself.
	var managerRef *handoff.Manager
	runnerCfg := background.RunnerConfig{
		WorkDir:        filepath.Join(cfg.WorkDir, "handoff-work"),
		PollInterval:   parseDurationOrDefault(cfg.Background.PollInterval, 0),
		RequestTimeout: parseDurationOrDefault(cfg.Timeout.Request, 0),
		OnComplete: func(id string, resp flowtypes.HandoffResponse) {
			if managerRef == nil {
				return
			}
			if err := managerRef.OnBackgroundComplete(context.Background(), id, resp); err != nil {
				telemetry.Logger.Error("background job completion not recorded", "jobID", id, "error", err.Error())
			}
		},
		OnEvent: func(evt background.Event, id string) {
			bus.Publish(Event{Kind: EventKindBackground, Name: string(evt), Subject: id})
		},
	}
	runner, err := background.NewRunner(runnerCfg)
	if err != nil {
		shutdownErr := telemetry.Shutdown(context.Background())
		return nil, errors.Join(fmt.Errorf("create background runner: %w", err), shutdownErr)
	}

	manager, err := handoff.NewManager(handoff.ManagerConfig{
		Retry:         buildRetryConfig(cfg.Retry),
		RequestTimeout: parseDurationOrDefault(cfg.Timeout.Request, 0),
		MaxConcurrent:  cfg.Background.MaxConcurrent,
		PollInterval:   parseDurationOrDefault(cfg.Background.PollInterval, 0),
		MaxQueueItems:  cfg.Background.QueueSize,
		Store:          st,
		Dispatcher:     dispatcher,
		Registry:       breakerRegistry,
		CostTable:      costTable,
		Launcher:       runner,
	})
	if err != nil {
		shutdownErr := telemetry.Shutdown(context.Background())
		return nil, errors.Join(fmt.Errorf("create handoff manager: %w", err), shutdownErr)
	}
	managerRef = manager

	for _, p := range cfg.Providers {
		manager.AddProvider(flowtypes.ProviderConfig{
			Name:     p.Name,
			Type:     flowtypes.ProviderType(p.Type),
			Endpoint: p.Endpoint,
			Model:    p.Model,
			Priority: p.Priority,
			APIKey:   p.APIKey,
		})
	}

	metricsDir := filepath.Join(cfg.WorkDir, "metrics")
	daemon, err := worker.NewDaemon(worker.DaemonConfig{
		Store:                st,
		Oracle:                worker.NewProcResourceOracle(),
		Workers:               buildWorkerDefinitions(cfg, metricsDir),
		MaxCPULoad:            cfg.ResourceThresholds.MaxCPULoad,
		MinFreeMemoryPercent:  cfg.ResourceThresholds.MinFreeMemoryPercent,
		OnEvent: func(evt worker.Event, workerType string) {
			bus.Publish(Event{Kind: EventKindWorker, Name: string(evt), Subject: workerType})
		},
	})
	if err != nil {
		shutdownErr := telemetry.Shutdown(context.Background())
		return nil, errors.Join(fmt.Errorf("create worker daemon: %w", err), shutdownErr)
	}

	return &Runtime{
		cfg:       cfg,
		Cache:     optimizer,
		Handoff:   manager,
		Workers:   daemon,
		Bus:       bus,
		Telemetry: telemetry,
		store:     st,
		runner:    runner,
		registry:  catwalkRegistry,
	}, nil
}

// Initialize starts every long-running collaborator: the catwalk model
// registry's refresh loop, the handoff manager's restored queue state,
// and the worker daemon's schedule.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.registry.Start(ctx)

	if err := r.Cache.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize cache optimizer: %w", err)
	}
	if err := r.Handoff.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize handoff manager: %w", err)
	}
	r.Handoff.HealthCheckAll(ctx)
	if err := r.Workers.Start(ctx); err != nil {
		return fmt.Errorf("start worker daemon: %w", err)
	}
	r.Telemetry.Logger.Info("runtime initialized", "workDir", r.cfg.WorkDir)
	return nil
}

// OnUserPromptSubmit delegates to the cache optimizer's hook handler.
func (r *Runtime) OnUserPromptSubmit(ctx context.Context, prompt, sessionID string) cache.HookResult {
	return r.Cache.OnUserPromptSubmit(ctx, prompt, sessionID)
}

// OnPreCompact delegates to the cache optimizer's emergency-prune hook.
func (r *Runtime) OnPreCompact(ctx context.Context) cache.HookResult {
	return r.Cache.OnPreCompact(ctx)
}

// Shutdown stops the worker daemon, the handoff manager, the background
// runner, the model registry's refresh loop and telemetry, in that
// order, per spec.md §4.10's "cancel timers, persist state" rule.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if err := r.Workers.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop worker daemon: %w", err))
	}
	if err := r.Handoff.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown handoff manager: %w", err))
	}
	if err := r.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown background runner: %w", err))
	}
	r.registry.Stop()
	if err := r.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("runtime: store.redisAddr is required for the redis backend"))
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		return store.NewRedisStore(store.RedisStoreConfig{Client: client, Namespace: cfg.Store.RedisNamespace})
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("runtime: store.postgresDSN is required for the postgres backend"))
		}
		return store.NewPostgresStore(ctx, store.PostgresStoreConfig{DSN: cfg.Store.PostgresDSN})
	case "", "file":
		return store.NewFileStore(store.FileStoreConfig{Dir: filepath.Join(cfg.WorkDir, "state")})
	default:
		return nil, errkind.Wrap(errkind.Configuration, fmt.Errorf("runtime: unknown storeBackend %q", cfg.StoreBackend))
	}
}
