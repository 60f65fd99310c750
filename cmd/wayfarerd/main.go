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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/history"
	"github.com/wayfarerhq/wayfarer/internal/httpapi"
	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/realtime"
	"github.com/wayfarerhq/wayfarer/internal/session"
)

const credentialMintURL = "https://api.openai.com/v1/realtime/sessions"

func main() {
	root := &cobra.Command{
		Use:           "wayfarerd",
		Short:         "Realtime voice and text gateway for the Wayfarer travel platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	var chatMessage string
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Send one text turn through a realtime session and print the reply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), chatMessage)
		},
	}
	chat.Flags().StringVarP(&chatMessage, "message", "m", "", "user message to send")
	_ = chat.MarkFlagRequired("message")

	root.AddCommand(serve, chat)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("config: %w", err)
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return cfg, logger, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("history store init: %w", err)
	}
	defer store.Close()

	registry, err := agent.NewRegistry(defaultAgents()...)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	credentials := httpapi.NewCredentialIssuer(credentialMintURL, cfg.RealtimeAPIKey, cfg.RealtimeModel)
	api := httpapi.New(cfg, sessions, registry, credentials, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// runChat drives one realtime session end to end from the terminal. Useful
// for smoke-testing credentials and agent configuration without a frontend.
func runChat(ctx context.Context, message string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("history store init: %w", err)
	}
	defer store.Close()

	registry, err := agent.NewRegistry(defaultAgents()...)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}

	done := make(chan struct{}, 1)
	capture := realtime.NewMemoryCaptureDevice()
	playback := realtime.NewMemoryPlaybackDevice()
	transport := realtime.NewWSTransport(realtime.TransportConfig{
		URL:            cfg.RealtimeURL,
		Model:          cfg.RealtimeModel,
		ConnectTimeout: cfg.ConnectTimeout,
		PreferredCodec: cfg.PreferredCodec,
	}, capture, playback, nil, logger)

	ctrl, err := realtime.NewController(realtime.ControllerOptions{
		FrontendID:   "cli",
		Registry:     registry,
		DefaultAgent: cfg.DefaultAgent,
		Auth:         realtime.NewAuthenticator(cfg.CredentialURL),
		Transport:    transport,
		Capture:      capture,
		Playback:     playback,
		Store:        store,
		Sessions:     session.NewManager(cfg.SessionInactivityTimeout),
		Updater: realtime.UpdaterConfig{
			Model:                 cfg.RealtimeModel,
			TranscriptionLanguage: cfg.TranscriptionLanguage,
			PreferredCodec:        cfg.PreferredCodec,
		},
		PTT: realtime.PTTConfig{
			MinCaptureDuration:  cfg.MinCaptureDuration,
			CreateRetryDelay:    cfg.CreateRetryDelay,
			CaptureDumpDir:      cfg.CaptureDumpDir,
			CaptureSampleRateHz: cfg.CaptureSampleRateHz,
		},
		Callbacks: realtime.Callbacks{
			OnResponseDelta: func(text string) { fmt.Print(text) },
			OnResponseDone: func(_, agentName string) {
				fmt.Println()
				fmt.Printf("[%s]\n", agentName)
				select {
				case done <- struct{}{}:
				default:
				}
			},
			OnAgentTransfer: func(agentName string) {
				fmt.Printf("\n-- transferred to %s --\n", agentName)
			},
			OnError: func(err error) {
				logger.Error().Err(err).Msg("session error")
			},
		},
		Log: logger,
	})
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer ctrl.Disconnect(context.Background())

	if err := ctrl.SendMessage(message); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		return errors.New("timed out waiting for a response")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
