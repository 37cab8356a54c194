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

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/triagebot/triage/internal/ai"
	"github.com/triagebot/triage/internal/chatops"
	"github.com/triagebot/triage/internal/config"
	"github.com/triagebot/triage/internal/hub"
	"github.com/triagebot/triage/internal/logging"
	"github.com/triagebot/triage/internal/pipeline"
	"github.com/triagebot/triage/internal/rag"
	"github.com/triagebot/triage/internal/registry"
	"github.com/triagebot/triage/internal/server"
	"github.com/triagebot/triage/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Start the triage server: webhook admission, the drafts API, and the
live dashboard channel. Requires GITHUB_WEBHOOK_SECRET; runs with keyword
classification and template drafts when ANTHROPIC_API_KEY is absent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	store, err := rag.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer store.Close()

	var (
		classifier pipeline.Classifier
		responder  pipeline.Responder
	)
	if cfg.AI.APIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		client, err := ai.NewClient(ai.Config{
			APIKey: cfg.AI.APIKey,
			Model:  cfg.AI.Model,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("creating AI client: %w", err)
		}
		classifier, responder = client, client
	} else {
		log.Warn("no API key configured, using keyword classification and template drafts")
		classifier = ai.KeywordClassifier{}
		responder = ai.TemplateResponder{}
	}

	policy, err := cfg.Pipeline.Routing()
	if err != nil {
		return err
	}

	liveHub := hub.New(log)
	reg := registry.New()

	engine, err := pipeline.New(pipeline.Config{
		Classifier:        classifier,
		Retriever:         rag.NewRetriever(store),
		Responder:         responder,
		Publisher:         liveHub,
		Policy:            policy,
		StageTimeout:      cfg.Pipeline.StageTimeout(),
		RetrieveLimit:     cfg.Pipeline.RetrieveLimit,
		MaxConcurrentRuns: int64(cfg.Pipeline.MaxConcurrentRuns),
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	var gh *tracker.Client
	if cfg.GitHub.Token != "" {
		gh, err = tracker.NewClient(cfg.GitHub.Token, tracker.WithLogger(log))
		if err != nil {
			return fmt.Errorf("creating tracker client: %w", err)
		}
	} else {
		log.Warn("no GitHub token configured, drafts stay dashboard-only")
	}

	var comments chatops.Tracker
	if gh != nil {
		comments = gh
	}
	router := chatops.NewRouter(reg, comments, liveHub, log)

	serverCfg := server.Config{
		WebhookSecret: cfg.GitHub.WebhookSecret,
		Registry:      reg,
		Pipeline:      engine,
		Router:        router,
		Hub:           liveHub,
		Logger:        log,
	}
	if gh != nil {
		serverCfg.Commenter = gh
	}
	srv, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Printf("%s triage server listening on %s\n", green("✓"), cfg.Server.Addr)
	log.Info("server starting", "addr", cfg.Server.Addr, "routing", policy.Name())

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
