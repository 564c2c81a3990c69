// Command callserver runs the voice call server: websocket call streaming,
// telephony webhooks, and the transcript API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/autocally/autocally/pkg/call"
	"github.com/autocally/autocally/pkg/core/dialogue"
	"github.com/autocally/autocally/pkg/core/voice/stt"
	"github.com/autocally/autocally/pkg/core/voice/tts"
	"github.com/autocally/autocally/pkg/gateway/config"
	gatewayserver "github.com/autocally/autocally/pkg/gateway/server"
	"github.com/autocally/autocally/pkg/gateway/sessions"
	"github.com/autocally/autocally/pkg/store"
)

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return pg, pg.Close, nil
}

func buildCompleter(ctx context.Context, cfg config.Config) (dialogue.Completer, error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return dialogue.NewGemini(client, cfg.LLMModel), nil
	case "openai":
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client := openai.NewClient(opts...)
		return dialogue.NewOpenAI(&client, cfg.LLMModel), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	completer, err := buildCompleter(ctx, cfg)
	if err != nil {
		return err
	}

	registry := call.NewRegistry(cfg.SessionIdleTTL, logger)
	registry.Start(cfg.SessionSweepInterval)
	defer registry.Close()

	orchestrator := call.NewOrchestrator(
		registry,
		st,
		stt.NewDeepgram(cfg.DeepgramAPIKey),
		tts.NewCartesia(cfg.CartesiaAPIKey),
		completer,
		call.Config{
			SpeechPacing:    cfg.SpeechPacing,
			SampleWidth:     cfg.SampleWidthBytes,
			SampleRate:      cfg.TTSSampleRate,
			Encoding:        cfg.TTSEncoding,
			DefaultGreeting: cfg.DefaultGreeting,
			STT: stt.SessionOptions{
				Model:      cfg.STTModel,
				Language:   cfg.STTLanguage,
				Encoding:   cfg.STTEncoding,
				SampleRate: cfg.STTSampleRate,
				Channels:   1,
			},
		},
		logger,
	)

	liveConns := sessions.NewTracker()
	srv := gatewayserver.New(cfg, logger, orchestrator, st, liveConns)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting call server",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"llm_provider", cfg.LLMProvider,
		"persistent", cfg.DatabaseURL != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	liveConns.NotifyAll("draining", "server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !liveConns.Wait(waitCtx) {
		liveConns.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(stderr, "callserver: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "callserver: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
