package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/compose-network/prover-orchestrator/metrics"
	"github.com/compose-network/prover-orchestrator/orchestrator-app/config"
	apisrv "github.com/compose-network/prover-orchestrator/server/api"
	apimw "github.com/compose-network/prover-orchestrator/server/api/middleware"
	"github.com/compose-network/prover-orchestrator/x/circuits"
	proverclient "github.com/compose-network/prover-orchestrator/x/circuits/prover"
	"github.com/compose-network/prover-orchestrator/x/circuits/testprover"
	"github.com/compose-network/prover-orchestrator/x/orchestrator"
	orchhttp "github.com/compose-network/prover-orchestrator/x/orchestrator/http"
)

// App represents the prover orchestrator application
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	startedAt time.Time

	prover       circuits.Prover
	orchestrator *orchestrator.Orchestrator

	// API server (HTTP)
	apiServer *apisrv.Server
	apiErr    chan error

	// Shutdown management
	shutdownFns []func() error

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(_ context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		startedAt:   time.Now(),
		apiErr:      make(chan error, 1),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(log); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(log zerolog.Logger) error {
	prover, err := a.initializeProver(log)
	if err != nil {
		return err
	}
	a.prover = prover

	if err := a.initializeOrchestrator(log); err != nil {
		return err
	}

	a.initializeAPIServer(log)
	return nil
}

// initializeProver builds the circuit prover for the configured mode
func (a *App) initializeProver(log zerolog.Logger) (circuits.Prover, error) {
	switch a.cfg.Prover.Mode {
	case config.ProverModeHTTP:
		pc, err := proverclient.NewHTTPClient(
			a.cfg.Prover.BaseURL,
			&http.Client{Timeout: a.cfg.Prover.RequestTimeout},
			log,
			proverclient.WithPollInterval(a.cfg.Prover.PollInterval),
			proverclient.WithMaxPollInterval(a.cfg.Prover.MaxPollInterval),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create prover client: %w", err)
		}
		a.log.Info().Str("base_url", a.cfg.Prover.BaseURL).Msg("Using remote prover")
		return pc, nil

	case config.ProverModeSimulated:
		p := testprover.New(log)
		for kind, d := range a.cfg.Prover.Simulated.Latency {
			p.WithLatency(circuits.Kind(kind), d)
		}
		for kind, msg := range a.cfg.Prover.Simulated.Fail {
			p.FailWith(circuits.Kind(kind), errors.New(msg))
			a.log.Warn().Str("circuit", kind).Str("message", msg).Msg("Simulated prover will reject circuit")
		}
		a.log.Info().Msg("Using simulated prover")
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported prover mode %q", a.cfg.Prover.Mode)
	}
}

// initializeOrchestrator creates the epoch orchestrator
func (a *App) initializeOrchestrator(log zerolog.Logger) error {
	opts := []orchestrator.Option{
		orchestrator.WithCircuitTimeout(a.cfg.Orchestrator.CircuitTimeout),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, orchestrator.WithMetrics(orchestrator.NewMetrics()))
	}

	o, err := orchestrator.New(a.prover, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orchestrator = o

	a.shutdownFns = append(a.shutdownFns, func() error {
		o.Stop()
		return nil
	})
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(log zerolog.Logger) {
	s := apisrv.NewServer(a.cfg.API, log)
	s.Use(apimw.RequestID())
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.Logger(a.log))
	if a.cfg.API.CORS.Enabled {
		s.EnableCORS()
	}

	// Health/readiness/stats
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Orchestrator API
	orchhttp.NewHandler(a.orchestrator, log).RegisterMux(s.Router)

	a.apiServer = s
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.statusReporter(runCtx)

	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
			a.apiErr <- err
		}
	}()

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Msg("Prover orchestrator started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case runErr = <-a.apiErr:
		a.log.Error().Err(runErr).Msg("API server failed, initiating shutdown")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return multierr.Append(runErr, a.shutdown())
}

// shutdown releases the live epoch and runs the registered shutdown functions.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	var err error
	for _, fn := range a.shutdownFns {
		err = multierr.Append(err, fn())
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Shutdown completed with errors")
		return err
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports whether the orchestrator can take new work.
func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := a.orchestrator.Status()

	status, code := "ready", http.StatusOK
	if st.Active && st.State == orchestrator.StateFailed {
		// a failed epoch must be replaced before new blocks are accepted
		status, code = "epoch_failed", http.StatusServiceUnavailable
	}

	apisrv.WriteJSON(w, code, map[string]any{
		"status":       status,
		"prover_mode":  a.cfg.Prover.Mode,
		"active_epoch": st.Active,
	})
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, a.GetStats())
}

// GetStats returns application statistics.
func (a *App) GetStats() map[string]any {
	st := a.orchestrator.Status()
	stats := map[string]any{
		"app_version":      Version,
		"app_build_time":   BuildTime,
		"app_git_commit":   GitCommit,
		"uptime_seconds":   time.Since(a.startedAt).Seconds(),
		"prover_mode":      a.cfg.Prover.Mode,
		"epoch_active":     st.Active,
		"epoch":            st.Epoch,
		"epoch_state":      st.State,
		"total_blocks":     st.TotalBlocks,
		"started_blocks":   st.StartedBlocks,
		"completed_blocks": st.CompletedBlocks,
	}
	if tp, ok := a.prover.(*testprover.Prover); ok {
		stats["circuit_calls"] = tp.TotalCalls()
	}
	return stats
}

// statusReporter periodically logs the live epoch's progress.
func (a *App) statusReporter(ctx context.Context) {
	interval := a.cfg.Orchestrator.StatusLogInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.orchestrator.Status()
			if !st.Active {
				continue
			}

			a.log.Info().
				Uint64("epoch", st.Epoch).
				Str("epoch_run_id", st.RunID).
				Str("state", st.State).
				Int("total_blocks", st.TotalBlocks).
				Int("started_blocks", st.StartedBlocks).
				Int("completed_blocks", st.CompletedBlocks).
				Int("block_merges_ready", st.BlockMergeTree.Ready).
				Int("parity_ready", st.ParityTree.Ready).
				Msg("Epoch proving status")
		}
	}
}
