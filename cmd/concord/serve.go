package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/concordhq/concord/pkg/arbitration"
	"github.com/concordhq/concord/pkg/config"
	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/coordination"
	"github.com/concordhq/concord/pkg/escalation"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/learning"
	"github.com/concordhq/concord/pkg/observability"
	"github.com/concordhq/concord/pkg/policyloader"
	"github.com/concordhq/concord/pkg/proposal"
	"github.com/concordhq/concord/pkg/resiliency"
	"github.com/concordhq/concord/pkg/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the governance engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	logger := observability.SetupLogging(cfg.LogLevel)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "concord",
		ServiceVersion: "0.1.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	// Stores: SQLite for proposals and decisions, Postgres for learning
	// profiles when configured, in-memory otherwise.
	db, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	proposals, err := store.NewSQLiteProposalStore(db)
	if err != nil {
		return fmt.Errorf("proposal store: %w", err)
	}
	decisions, err := store.NewSQLiteDecisionStore(db)
	if err != nil {
		return fmt.Errorf("decision store: %w", err)
	}
	conflicts := store.NewMemoryConflictStore()
	policies := store.NewMemoryPolicyStore()

	var profiles store.ProfileStore = store.NewMemoryProfileStore()
	if cfg.DatabaseURL != "" {
		pgdb, err := openPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer func() { _ = pgdb.Close() }()
		profiles, err = store.NewPostgresProfileStore(pgdb)
		if err != nil {
			return fmt.Errorf("profile store: %w", err)
		}
	}

	// Policy bundles.
	loader, err := policyloader.NewLoader(cfg.PolicyDir)
	if err != nil {
		return err
	}
	if err := loader.LoadAll(); err != nil {
		logger.Warn("policy bundles not loaded", "dir", cfg.PolicyDir, "error", err)
	}
	for _, pol := range loader.Policies() {
		p := pol
		if err := policies.Save(ctx, &p); err != nil {
			return fmt.Errorf("register policy %s: %w", p.ID, err)
		}
	}

	// Engine wiring.
	dispatcher := events.NewInProcessDispatcher(logger)
	audit := events.NewAuditSink(0)
	dispatcher.SubscribeAll(audit.Record)

	registry := proposal.NewRegistry(proposals, dispatcher, logger)
	engine, err := arbitration.NewEngine(policies, decisions, registry, logger)
	if err != nil {
		return fmt.Errorf("arbitration engine: %w", err)
	}
	window := coordination.NewService(registry, engine, conflicts, cfg.CoordinationWindow, logger)
	breakers := resiliency.NewRegistry(resiliency.DefaultSettings())
	window.OnApprove(func(ctx context.Context, p *contracts.Proposal) error {
		// Execution of the winning action belongs to the domain layer; the
		// engine only reports what won. The per-agent breaker keeps a
		// misbehaving downstream from absorbing every approved action.
		return breakers.Get(p.AgentName + "-executor").Execute(ctx, func(context.Context) error {
			logger.Info("proposal ready for execution",
				"proposal_id", p.ID, "agent", p.AgentName, "action", p.ActionType)
			return nil
		})
	})
	gateway := escalation.NewGateway(decisions, conflicts, registry, dispatcher, logger)
	learner := learning.NewService(profiles, logger)

	var idem store.IdempotencyStore = store.NewMemoryIdempotencyStore()
	if cfg.RedisAddr != "" {
		idem = store.NewRedisIdempotencyStore(cfg.RedisAddr)
	}

	api := &adminAPI{
		window:  window,
		gateway: gateway,
		learner: learner,
		idem:    idem,
		logger:  logger,
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("concord engine started",
		"addr", cfg.ListenAddr, "window", cfg.CoordinationWindow,
		"policy_dir", cfg.PolicyDir, "policies", len(loader.Policies()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-stop:
	}
	logger.Info("concord engine stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
