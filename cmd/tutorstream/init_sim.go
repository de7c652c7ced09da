package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"tutorstream/internal/adapter/api"
	"tutorstream/internal/adapter/gateway"
	"tutorstream/internal/infra/logger"
	"tutorstream/internal/infra/middleware"
)

// initSim wires the development backend: the WebSocket gateway with the
// query simulator mounted behind the HTTP middleware chain.
func initSim(ctx context.Context, rt *runtime) *gateway.Server {
	cfg := rt.cfg.Simulator
	log := logger.Component(rt.log, "sim")

	auth := gateway.NewStaticTokenAuth(cfg.Tokens)
	srv := gateway.NewServer(auth, cfg.Addr, logger.Component(rt.log, "gateway"))
	sim := gateway.NewSimulator(srv, auth,
		gateway.WithStepDelay(cfg.StepDelay),
		gateway.WithSimulatorLogger(log),
	)

	srv.RegisterHTTPRoute(api.QueryPath, middleware.Chain(sim,
		middleware.Recover(log),
		middleware.AccessLog(log),
		middleware.APIHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: cfg.RequestsPerMin,
			Burst:          cfg.Burst,
		}),
	))
	srv.RegisterHTTPRoute("/metrics", middleware.Chain(rt.metrics.Handler(),
		middleware.Recover(log),
		middleware.APIHeaders,
	))
	return srv
}

func runSim() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := initRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := initSim(ctx, rt)
	rt.log.Info("development backend starting",
		"addr", rt.cfg.Simulator.Addr,
		"tokens", len(rt.cfg.Simulator.Tokens),
		"step_delay", rt.cfg.Simulator.StepDelay,
	)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}
