package main

import (
	"context"
	"log/slog"
	"os"

	"memorial-credits/internal/app"
	"memorial-credits/internal/config"
	"memorial-credits/internal/reconcile"
	"memorial-credits/pkg/logger"
	"memorial-credits/pkg/telemetry"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
)

// sweeper is the slice of reconcile.Job the handler needs.
type sweeper interface {
	Sweep(ctx context.Context) (reconcile.SweepResult, error)
}

type handler struct {
	job sweeper
	log *slog.Logger
	// flush exports buffered telemetry; the environment may freeze the
	// process before the periodic exporters run.
	flush func(context.Context) error
}

// Handle is triggered by an EventBridge schedule. A sweep that finishes with
// per-identity failures still succeeds; the next schedule retries them.
func (h handler) Handle(ctx context.Context) (reconcile.SweepResult, error) {
	ctx = logger.With(ctx, h.log)
	res, err := h.job.Sweep(ctx)
	if h.flush != nil {
		if ferr := h.flush(context.WithoutCancel(ctx)); ferr != nil {
			h.log.Warn("telemetry flush failed", "err", ferr)
		}
	}
	if err != nil {
		h.log.Error("sweep failed", "err", err)
		return res, err
	}
	h.log.Info("sweep finished",
		"skipped", res.Skipped,
		"identities", res.Identities,
		"reconciled", res.Reconciled,
		"credits", res.Credits,
		"failures", res.Failures,
	)
	return res, nil
}

func main() {
	// Load environment variables for local testing.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env, "reconcile-lambda")
	slog.SetDefault(log)

	ctx := context.Background()
	_, err = telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		log.Error("telemetry init failed", "err", err)
		os.Exit(1)
	}

	// Connections are opened once per cold start and reused across invocations.
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("dependencies init failed", "err", err)
		os.Exit(1)
	}

	h := handler{job: a.Reconcile, log: log, flush: telemetry.ForceFlush}
	lambda.Start(h.Handle)
}
