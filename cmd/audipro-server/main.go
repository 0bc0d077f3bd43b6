// audipro-server is the chat server behind the audipro client. It answers
// typed messages and recordings over HTTP and gRPC using a configurable
// reply backend.
//
// Usage:
//
//	audipro-server [flags]
//	audipro-server -config /path/to/audipro.yaml
//
//	@title			AudiPro Chat API
//	@version		1.0
//	@description	Text and voice chat endpoints for the AudiPro assistant.
//	@host			localhost:5000
//	@BasePath		/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nadzzz/audipro/docs"
	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/dispatch"
	"github.com/nadzzz/audipro/internal/health"
	"github.com/nadzzz/audipro/internal/interpreter"
	echointerp "github.com/nadzzz/audipro/internal/interpreter/echo"
	localinterp "github.com/nadzzz/audipro/internal/interpreter/local"
	openaiinterp "github.com/nadzzz/audipro/internal/interpreter/openai"
	"github.com/nadzzz/audipro/internal/observe"
	"github.com/nadzzz/audipro/internal/transport"
	grpctransport "github.com/nadzzz/audipro/internal/transport/grpc"
	httptransport "github.com/nadzzz/audipro/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/audipro.yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("audipro-server %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			slog.Error("failed to print configuration", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging, os.Stdout)
	slog.Info("audipro-server starting", "version", version)

	if err := run(cfg, *configFile); err != nil {
		slog.Error("audipro-server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("audipro-server stopped")
}

func run(cfg *config.Config, configFile string) error {
	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()
	metrics := observe.DefaultMetrics()

	// The persona follows the config file so the prompt can be tuned live.
	persona := interpreter.NewPersona(cfg.Interpreter.SystemPrompt)
	if err := config.Watch(configFile, func(c *config.Config) {
		persona.Set(c.Interpreter.SystemPrompt)
	}); err != nil {
		slog.Debug("config hot reload disabled", "error", err)
	}

	// Initialize the interpreter backend.
	interp, err := newInterpreter(cfg.Interpreter, persona)
	if err != nil {
		return err
	}
	defer interp.Close()

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP, metrics))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port, metrics))
	}

	dispatcher := dispatch.New(interp, metrics)
	healthServer := health.New(cfg.Server.HealthPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthServer.ListenAndServe(gctx)
	})
	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx, dispatcher.Handle); err != nil {
				return fmt.Errorf("%s transport: %w", t.Name(), err)
			}
			return nil
		})
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("audipro-server ready",
		"backend", interp.Name(),
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	<-gctx.Done()
	healthServer.SetReady(false)
	slog.Info("shutting down, draining...")

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newInterpreter(cfg config.InterpreterConfig, persona *interpreter.Persona) (interpreter.Interpreter, error) {
	switch cfg.Backend {
	case "echo":
		slog.Info("using echo interpreter")
		return echointerp.New(), nil
	case "openai":
		interp, err := openaiinterp.New(cfg.OpenAI, persona)
		if err != nil {
			return nil, err
		}
		slog.Info("using OpenAI-compatible interpreter",
			"base_url", cfg.OpenAI.BaseURL,
			"completion_model", cfg.OpenAI.CompletionModel,
			"transcription_model", cfg.OpenAI.TranscriptionModel)
		return interp, nil
	case "local":
		slog.Info("using local interpreter",
			"whisper", cfg.Local.WhisperEndpoint,
			"llm", cfg.Local.LLMEndpoint)
		return localinterp.New(cfg.Local, persona), nil
	default:
		return nil, fmt.Errorf("unknown interpreter backend %q", cfg.Backend)
	}
}
