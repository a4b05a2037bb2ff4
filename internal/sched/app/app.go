// Package app wires the scheduler's subsystems — registry, selector, pool
// manager, dispatcher, routing runtime, session actors and the three HTTP
// servers — into a running instance.
//
// App owns the full lifecycle: New creates and connects every subsystem,
// Run blocks for the instance's lifetime, and Shutdown tears everything
// down in order. For testing, inject fakes via functional options; when an
// option is absent New builds the real thing from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/xlatesched/internal/sched/config"
	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/registry"
	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

// App owns every subsystem's lifetime for one scheduler instance.
type App struct {
	cfg *config.Config

	redis redis.UniversalClient

	registry   *registry.Registry
	selector   *registry.Selector
	pools      *registry.PoolManager
	rt         *routing.Runtime
	locker     *routing.Locker
	dispatcher *dispatcher.Dispatcher

	nodeConns    *connHub
	sessionConns *connHub
	actors       *actorHub
	rooms        *roomManager

	sessionSrv *http.Server
	nodeSrv    *http.Server
	adminSrv   *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithRedisClient injects a Redis client instead of dialing cfg.Redis.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(a *App) { a.redis = c }
}

// ── New ─────────────────────────────────────────────────────────────────

// New wires an App from cfg. It connects Redis, constructs every scheduler
// subsystem and builds the three HTTP servers, but does not start listening
// or any background loop — that happens in Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		nodeConns:    newConnHub(),
		sessionConns: newConnHub(),
		actors:       newActorHub(),
		rooms:        newRoomManager(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// ── 1. Redis client ──
	if a.redis == nil {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.redis.Close() })

	// ── 2. Registry, selector, pool manager ──
	regCfg := registry.Config{
		HealthCheckCount:  cfg.Registry.HealthCheckCount,
		WarmupTimeout:     cfg.Registry.WarmupTimeout,
		HeartbeatTimeout:  cfg.Registry.HeartbeatTimeout,
		RemoveStaleAfter:  cfg.Registry.RemoveStaleAfter,
		ResourceThreshold: cfg.Registry.ResourceThreshold,
	}
	a.registry = registry.New(regCfg)
	a.pools = registry.NewPoolManager(registry.DefaultPoolConfig())
	selCfg := registry.DefaultSelectorConfig()
	selCfg.ResourceThreshold = cfg.Registry.ResourceThreshold
	a.selector = registry.NewSelector(selCfg, a.registry, a.pools, 1024)

	// ── 3. Routing runtime + locker ──
	rtCfg := routing.Config{
		KeyPrefix:        cfg.Routing.KeyPrefix,
		InstanceID:       cfg.InstanceID,
		HeartbeatPeriod:  cfg.Routing.HeartbeatPeriod,
		OwnerTTL:         cfg.Routing.OwnerTTL,
		RefreshInterval:  cfg.Routing.RefreshInterval,
		StaleSweepMaxN:   cfg.Routing.StaleSweepMaxN,
		DLQScanInterval:  cfg.Routing.DLQScanInterval,
		DLQScanCount:     cfg.Routing.DLQScanCount,
		DLQMaxDeliveries: cfg.Routing.DLQMaxDeliveries,
		DLQMinIdle:       cfg.Routing.DLQMinIdle,
		StreamBlock:      cfg.Routing.StreamBlock,
		StreamCount:      cfg.Routing.StreamCount,
		ReclaimIdle:      cfg.Routing.ReclaimIdle,
	}
	a.rt = routing.New(rtCfg, a.redis)

	if redisClient, ok := a.redis.(*redis.Client); ok {
		a.locker = routing.NewLocker(redisClient)
	} else {
		return nil, fmt.Errorf("app: routing.Locker requires a single-node *redis.Client, got %T", a.redis)
	}

	if err := a.rt.EnsureInboxGroup(ctx); err != nil {
		return nil, fmt.Errorf("app: ensure inbox group: %w", err)
	}

	// ── 4. Dispatcher ──
	dispCfg := dispatcher.Config{
		RequestLockTTL: cfg.Dispatcher.RequestLockTTL,
		BindingLease:   cfg.Dispatcher.BindingLease,
		ReservationTTL: cfg.Dispatcher.ReservationTTL,
		SpreadWindow:   cfg.Dispatcher.SpreadWindow,
		SendCancel:     cfg.Dispatcher.SendCancel,
		PendingTimeout: cfg.Dispatcher.PendingTimeout,
		JobTimeout:     cfg.Dispatcher.JobTimeout,
		FailoverMax:    cfg.Dispatcher.FailoverMax,
		ScanInterval:   cfg.Dispatcher.ScanInterval,
	}
	disp, err := dispatcher.New(dispCfg, a.registry, a.selector, a.pools, a.rt, a.locker, a, a)
	if err != nil {
		return nil, fmt.Errorf("app: dispatcher init: %w", err)
	}
	a.dispatcher = disp

	// ── 5. HTTP servers ──
	a.sessionSrv = &http.Server{Addr: cfg.Server.SessionListenAddr, Handler: a.newSessionMux()}
	a.nodeSrv = &http.Server{Addr: cfg.Server.NodeListenAddr, Handler: a.newNodeMux()}
	a.adminSrv = &http.Server{Addr: cfg.Server.AdminListenAddr, Handler: a.newAdminMux()}

	return a, nil
}

// ── Run ─────────────────────────────────────────────────────────────────

// Run starts every background loop and HTTP listener, then blocks until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	host, _ := os.Hostname()
	if host == "" {
		host = "scheduler"
	}
	pid := os.Getpid()

	if err := a.rt.AnnouncePresence(ctx, host, pid, buildVersion); err != nil {
		slog.Warn("app: initial presence announce failed", "err", err)
	}
	a.rt.StartOwnerRenewal(ctx, func(renewCtx context.Context) error {
		return a.rt.AnnouncePresence(renewCtx, host, pid, buildVersion)
	})

	a.dispatcher.RunTimeoutScanner(ctx, a.onJobFailover)
	a.rt.RunInboxLoop(ctx, a.handleInboxMessage)
	a.rt.RunReclaimLoop(ctx, a.handleInboxMessage)
	a.rt.RunDLQScanLoop(ctx)
	a.rt.RunPoolLeaderLoop(ctx, a.cfg.Routing.RefreshInterval*5, a.rebuildPools)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runStaleSweepLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runPoolFollowerLoop(ctx, a.cfg.Routing.RefreshInterval)
	}()

	servers := []*http.Server{a.sessionSrv, a.nodeSrv, a.adminSrv}
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			slog.Info("app: http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("app: http server failed", "addr", srv.Addr, "err", err)
			}
		}(srv)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// runStaleSweepLoop periodically removes nodes whose presence has lapsed
// from both the local registry and the shared Redis index.
func (a *App) runStaleSweepLoop(ctx context.Context) {
	t := time.NewTicker(a.cfg.Registry.HeartbeatTimeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, nodeID := range a.registry.SweepStale() {
				if err := a.rt.RemoveNode(ctx, nodeID); err != nil {
					slog.Warn("app: stale node removal failed", "node_id", nodeID, "err", err)
				}
			}
		}
	}
}

// ── Shutdown ────────────────────────────────────────────────────────────

// Shutdown tears down every subsystem in order, respecting ctx's deadline.
// Safe to call multiple times; only the first call runs.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		for _, srv := range []*http.Server{a.sessionSrv, a.nodeSrv, a.adminSrv} {
			if srv == nil {
				continue
			}
			if shutErr := srv.Shutdown(ctx); shutErr != nil {
				slog.Warn("app: http server shutdown failed", "addr", srv.Addr, "err", shutErr)
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			done := make(chan error, 1)
			go func() { done <- closer() }()
			select {
			case cerr := <-done:
				if cerr != nil {
					slog.Warn("app: closer failed", "err", cerr)
				}
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded waiting on closer")
				err = ctx.Err()
				return
			}
		}
	})
	return err
}

// buildVersion is reported in this instance's Redis presence record.
const buildVersion = "dev"
