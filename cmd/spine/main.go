// Command spine is the thin CLI entrypoint over the orchestration
// runtime: it loads configuration, builds a Runtime, submits one
// request, prints the synthesized response, and exits with the
// taxonomy's exit code (spec.md §6).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/meridianrt/spine/internal/adminhttp"
	"github.com/meridianrt/spine/internal/config"
	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/internal/telemetry"
	"github.com/meridianrt/spine/pkg/backend"
	"github.com/meridianrt/spine/pkg/orchestrator"
	"github.com/meridianrt/spine/pkg/request"
	"github.com/meridianrt/spine/pkg/spineerr"
)

// Exit codes, per spec.md §6.
const (
	exitSuccess         = 0
	exitGenericError    = 1
	exitConfigError     = 2
	exitSecurityRefusal = 3
	exitCancelled       = 4
	exitNoBackend       = 5
)

// shutdownGrace bounds how long the admin HTTP server is given to
// drain in-flight health checks on interrupt.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("spine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "spine.yaml", "path to the YAML configuration file")
	prompt := fs.String("prompt", "", "request content; reads stdin if empty")
	adminAddr := fs.String("admin-addr", "", "if set, serves /healthz on this address (e.g. :9090)")
	requiredVoices := fs.String("voices", "", "comma-separated voice ids to force (overrides selection)")
	if err := fs.Parse(args); err != nil {
		return exitGenericError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "spine: configuration error: %v\n", err)
		return exitConfigError
	}

	content := *prompt
	if content == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "spine: failed to read stdin: %v\n", err)
			return exitGenericError
		}
		content = strings.TrimSpace(string(data))
	}
	if content == "" {
		fmt.Fprintln(stderr, "spine: no request content given (-prompt or stdin)")
		return exitGenericError
	}

	speed, quality, err := buildAdapters(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "spine: %v\n", err)
		return exitConfigError
	}

	log := logger.New()
	tel := telemetry.NoOp{}
	rt := orchestrator.NewRuntime(speed, quality,
		orchestrator.WithLogger(log),
		orchestrator.WithTelemetry(tel),
	)
	orch := orchestrator.New(rt, orchestrator.WithMaxConcurrentVoices(cfg.PerformanceThresholds.MaxConcurrentRequests))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *adminAddr != "" {
		admin := adminhttp.New(*adminAddr, rt)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("admin http server stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
	}

	var voices []string
	if *requiredVoices != "" {
		for _, v := range strings.Split(*requiredVoices, ",") {
			if v = strings.TrimSpace(v); v != "" {
				voices = append(voices, v)
			}
		}
	}

	req, err := request.New(uuid.NewString(), content, request.TypeCodeGeneration, request.PriorityMedium,
		request.Context{}, request.Constraints{RequiredVoices: voices})
	if err != nil {
		fmt.Fprintf(stderr, "spine: invalid request: %v\n", err)
		return exitGenericError
	}

	result, err := orch.Handle(ctx, req)
	if err != nil {
		return handleError(err, stderr)
	}

	fmt.Fprintln(stdout, result.Content)
	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "spine: warning: %s\n", w)
	}
	if result.Refused {
		return exitSecurityRefusal
	}
	return exitSuccess
}

func handleError(err error, stderr io.Writer) int {
	fmt.Fprintf(stderr, "spine: request failed: %v\n", err)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitCancelled
	case errors.Is(err, orchestrator.ErrNoBackendAvailable):
		return exitNoBackend
	case spineerr.KindOf(err) == spineerr.KindSecurity:
		return exitSecurityRefusal
	default:
		return exitGenericError
	}
}

// buildAdapters maps the config's providers list onto the two backend
// tiers the router dispatches between: a provider typed "speed" (or
// the first entry) becomes the speed tier, one typed "quality" (or the
// last entry, which is the same entry if only one is configured)
// becomes the quality tier.
func buildAdapters(cfg config.Config) (speed, quality backend.Adapter, err error) {
	if len(cfg.Providers) == 0 {
		return nil, nil, fmt.Errorf("no providers configured")
	}

	speedProvider := cfg.Providers[0]
	qualityProvider := cfg.Providers[len(cfg.Providers)-1]
	for _, p := range cfg.Providers {
		switch p.Type {
		case "speed":
			speedProvider = p
		case "quality":
			qualityProvider = p
		}
	}

	speed = backend.NewSpeedAdapter(speedProvider.Type, speedProvider.Endpoint, "")
	quality = backend.NewQualityAdapter(qualityProvider.Type, qualityProvider.Endpoint, "")
	return speed, quality, nil
}
