// Command agentrund is the example composition root: it wires a Store, an
// LLM client, a Wire, and a tool Registry into one Agent and drives one
// turn per line read from stdin, printing streamed content deltas and each
// final response to stdout.
// It exists to exercise the module end to end, not as a production
// service — a real deployment wires the same pieces behind its own HTTP or
// gRPC surface.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"goa.design/clue/log"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/config"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/llm/anthropic"
	"github.com/goa-ai/agentrun/internal/registry"
	"github.com/goa-ai/agentrun/internal/runnable"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/stepexec"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/telemetry"
	"github.com/goa-ai/agentrun/internal/toolkit"
	"github.com/goa-ai/agentrun/internal/wire"
)

func main() {
	var (
		configPathF = flag.String("config", "agentrun.yaml", "Path to the runtime's YAML configuration")
		sessionIDF  = flag.String("session", "", "Session id to continue; a fresh one is minted if empty")
		dbgF        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPathF, *sessionIDF); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "agentrund exited with error"})
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := installTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("installing tracer provider: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "tracer provider shutdown failed"})
		}
	}()

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	st, err := newStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}

	client, err := newLLMClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building LLM client: %w", err)
	}

	toolRegistry := toolkit.NewRegistry()
	executor := stepexec.New(client, st, toolRegistry, stepexec.Options{
		MaxSteps: cfg.Limits.MaxSteps,
		Logger:   logger,
		Tracer:   tracer,
	})
	agent := runnable.NewAgent("cli-agent", "", st, executor)

	signals := registry.New()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log.Info(ctx, log.KV{K: "msg", V: "session ready"}, log.KV{K: "session_id", V: sessionID})

	w := wire.New(cfg.Wire.BufferSize, wire.WithLogger(logger))
	sub := w.Subscribe()
	go printEvents(sub)

	sig := abort.New()
	runID := uuid.NewString()
	signals.Register(runID, sig)
	defer signals.Unregister(runID)

	ec := execctx.New(sessionID, runID, w, sig).WithTelemetry(logger, tracer)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "> ")
	for scanner.Scan() {
		input := scanner.Text()
		if input == "" {
			fmt.Fprint(os.Stderr, "> ")
			continue
		}

		out, err := agent.Run(ctx, input, ec)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "run failed"})
		} else {
			fmt.Println(out.Response)
		}
		fmt.Fprint(os.Stderr, "> ")
	}

	w.Close()
	return scanner.Err()
}

func printEvents(sub *wire.Subscription) {
	for ev := range sub.Events() {
		if ev.Kind == step.EventStepDelta && ev.Delta != nil && ev.Delta.Content != "" {
			fmt.Print(ev.Delta.Content)
		}
	}
}

func newStore(cfg config.StoreConfig, logger telemetry.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemory(store.WithLogger(logger)), nil
	case "mongo":
		return nil, fmt.Errorf("mongo store wiring requires a live MongoDB deployment; see internal/store/mongostore")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// installTracerProvider installs the process-wide OTel SDK TracerProvider
// driving every ClueTracer span (§2's per-turn span). There is no collector
// target in this composition root, so no batcher/exporter is attached; the
// provider still samples and resource-tags spans for whatever processor a
// real deployment registers.
func installTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newLLMClient(cfg config.LLMConfig) (*anthropic.Client, error) {
	switch cfg.Provider {
	case "anthropic", "":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		sdkClient := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		return anthropic.New(&sdkClient.Messages, cfg.Model, maxTokens), nil
	default:
		return nil, fmt.Errorf("cmd/agentrund only wires the anthropic provider by default; set llm.provider: anthropic or build a custom composition root for %q", cfg.Provider)
	}
}
