// Package server is the public composition root for the ForgeBot
// webhook service. It wires configuration, the Redis-backed quota
// governor, the dispatch pool, the event dispatcher, and the HTTP
// router into a runnable Server.
//
// The four downstream task kinds are injected: callers that own real
// task bodies register them on Server.Tasks before serving. The
// defaults registered here are boundary stubs that exercise the quota
// governor and log, so the service runs end to end out of the box.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/forgebot/forgebot/internal/alert"
	"github.com/forgebot/forgebot/internal/analytics"
	"github.com/forgebot/forgebot/internal/api"
	"github.com/forgebot/forgebot/internal/api/handlers"
	"github.com/forgebot/forgebot/internal/config"
	"github.com/forgebot/forgebot/internal/dispatch"
	"github.com/forgebot/forgebot/internal/event"
	"github.com/forgebot/forgebot/internal/geo"
	"github.com/forgebot/forgebot/internal/indexer"
	"github.com/forgebot/forgebot/internal/platform"
	"github.com/forgebot/forgebot/internal/quota"
	"github.com/forgebot/forgebot/internal/telemetry"
	"github.com/forgebot/forgebot/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized webhook service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Tasks is the task router; replace the default stub registrations
	// to plug in real task bodies.
	Tasks *dispatch.Router

	// Governor owns usage counters and tier decisions.
	Governor *quota.Governor

	// Pool runs fire-and-forget work.
	Pool *dispatch.Pool

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc drains the pool and flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the service from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Counter store: a connect failure is survivable. The governor then
	// fails safe toward the degraded path on every decision.
	var store quota.CounterStore
	redisStore, err := quota.NewRedisStore(cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Counter store unavailable, quota decisions degrade")
	} else {
		store = redisStore
		log.Info().Msg("Counter store connected")
	}

	resolver := geo.NewHTTPResolver(cfg.Geo)
	governor := quota.NewGovernor(store, resolver, platform.NewPublicClient(), cfg.Quota)

	alerts := alert.NewEmitter(cfg.Alert)
	ph := analytics.NewClient(cfg.Analytics)

	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, alerts)
	tasks := dispatch.NewRouter(pool, cfg.Dispatch.SyncTimeout)
	registerStubTasks(tasks, governor)

	dispatcher := event.NewDispatcher(
		cfg.Bot,
		platform.NewAppFactory(cfg.GitHub, cfg.Bot),
		tasks,
		pool,
		indexer.LogIndexer{},
		ph,
	)

	h := handlers.New(dispatcher, cfg.GitHub.WebhookSecret, cfg.Version)

	srv := &Server{
		Handler:  api.NewRouter(h),
		Tasks:    tasks,
		Governor: governor,
		Pool:     pool,
		Port:     cfg.Port,
	}
	srv.ShutdownFunc = func(ctx context.Context) error {
		if err := pool.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Dispatch pool did not drain cleanly")
		}
		if err := ph.Close(); err != nil {
			log.Warn().Err(err).Msg("Analytics flush failed")
		}
		if redisStore != nil {
			if err := redisStore.Close(); err != nil {
				log.Warn().Err(err).Msg("Counter store close failed")
			}
		}
		return shutdownTelemetry(ctx)
	}
	return srv, nil
}

// registerStubTasks binds boundary stubs for the four task kinds. Each
// stub consults the governor exactly the way a real body would, then
// logs instead of doing expensive work.
func registerStubTasks(tasks *dispatch.Router, governor *quota.Governor) {
	tasks.Register(models.TaskResolveTicket, func(ctx context.Context, inv models.Invocation) (string, error) {
		t := inv.Ticket
		degrade := governor.ShouldDegrade(ctx, t.Author)
		log.Info().
			Str("repo", t.RepoFullName).
			Int("issue", t.IssueNumber).
			Str("author", t.Author).
			Bool("degraded", degrade).
			Msg("Ticket resolution requested (no task body wired)")
		governor.RecordTicket(ctx, t.Author, degrade)
		return "", nil
	})
	tasks.Register(models.TaskHandlePRComment, func(ctx context.Context, inv models.Invocation) (string, error) {
		c := inv.Comment
		log.Info().
			Str("repo", c.RepoFullName).
			Int("pr", c.PRNumber).
			Str("username", c.Username).
			Msg("PR comment handling requested (no task body wired)")
		return "", nil
	})
	tasks.Register(models.TaskBuildPullRequest, func(ctx context.Context, inv models.Invocation) (string, error) {
		log.Info().Msg("Pull request build requested (no task body wired)")
		return "", nil
	})
	tasks.Register(models.TaskRunCheckSuite, func(ctx context.Context, inv models.Invocation) (string, error) {
		cr := inv.CheckRun
		log.Info().
			Str("repo", cr.Repository.FullName).
			Str("check", cr.CheckRun.Name).
			Str("conclusion", cr.CheckRun.Conclusion).
			Msg("Check suite triage requested (no task body wired)")
		return fmt.Sprintf("Check run %q finished with conclusion %q.", cr.CheckRun.Name, cr.CheckRun.Conclusion), nil
	})
}
