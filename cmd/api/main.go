package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mesh-coach/backend/internal/config"
	"github.com/zhouzirui/mesh-coach/backend/internal/handler"
	"github.com/zhouzirui/mesh-coach/backend/internal/handler/live"
	"github.com/zhouzirui/mesh-coach/backend/internal/handler/scenario"
	sessionHandler "github.com/zhouzirui/mesh-coach/backend/internal/handler/session"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/agent"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/assist"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/channel"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/identity"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/scheduler"
	sessionsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/session"
	"github.com/zhouzirui/mesh-coach/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	scenarios, err := store.NewScenarioStore(cfg.Storage.ScenarioDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load scenario store")
	}
	go func() {
		if err := scenarios.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("scenario watcher stopped")
		}
	}()

	var reports *store.ReportStore
	if cfg.Storage.ReportDBPath != "" {
		reports, err = store.NewReportStore(cfg.Storage.ReportDBPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open report store")
		}
		defer reports.Close()
	}

	manager := sessionsvc.NewManager(logger)

	var sink assist.ReportSink
	if reports != nil {
		sink = reports
	}
	aggregator := assist.New(sink, logger)
	manager.AddObserver(aggregator)

	var agents *agent.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("agent model unavailable, agent nodes will use authored prompts")
		} else {
			agents, err = agent.NewService(ctx, chatModel, cfg.AI.StreamResponse, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to initialize agent service")
				agents = nil
			} else {
				logger.Info().Str("model", cfg.AI.Model).Msg("agent service initialized")
			}
		}
	} else {
		logger.Info().Msg("agent model credentials not configured, agent nodes will use authored prompts")
	}

	var (
		adapter  *channel.Adapter
		identCli *identity.Client
	)
	if cfg.Provider.Enabled {
		issuer := channel.NewHTTPIssuer(cfg.Provider.CredentialURL, 10*time.Second)
		adapter = channel.NewAdapter(channel.DefaultConfig(cfg.Provider.WSURL, cfg.Provider.SynthURL), issuer, logger)
		logger.Info().Str("provider", cfg.Provider.WSURL).Msg("voice provider configured")
	} else {
		logger.Info().Msg("voice provider not configured, sessions run text-only")
	}
	if cfg.Provider.IdentityURL != "" {
		identCli = identity.NewClient(cfg.Provider.IdentityURL, 5*time.Second)
	}

	runtimes := scheduler.NewService(manager, scheduler.Config{
		SilenceThreshold: cfg.Session.SilenceThreshold,
		SessionTimeout:   cfg.Session.SessionTimeout,
	}, logger)

	broker := live.NewBroker(aggregator.Suggestions(), logger)
	go broker.Run(ctx)

	var opener sessionHandler.ChannelOpener
	if adapter != nil {
		opener = adapter
	}
	var agentGen scheduler.AgentGenerator
	if agents != nil {
		agentGen = agents
	}
	var synth scheduler.Synthesizer
	if adapter != nil && cfg.Provider.SynthURL != "" {
		synth = adapter
	}
	var reportReader sessionHandler.ReportReader
	if reports != nil {
		reportReader = reports
	}

	router := handler.NewRouter(handler.Deps{
		Scenarios: scenario.New(scenarios),
		Sessions: sessionHandler.New(scenarios, manager, runtimes, opener, agentGen, synth,
			identCli, reportReader, cfg.Session.MaxTurns, logger),
		Live: live.New(manager, broker, logger),
		Log:  logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("mesh coach backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
