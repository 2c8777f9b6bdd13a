// Package main is the entry point for the rainbow payoff estimator.
//
// With no arguments it prices the default two-asset scenario with iterative
// amplitude estimation against the register simulator and logs the quote
// together with the per-round diagnostics. With "serve" it starts the HTTP
// pricing service instead.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rainbow/internal/config"
	"github.com/aristath/rainbow/internal/modules/rainbow"
	"github.com/aristath/rainbow/internal/server"
	"github.com/aristath/rainbow/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "price"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "serve":
		serve(ctx, cfg, log)
	case "price":
		if err := price(ctx, cfg, log); err != nil {
			stop()
			log.Fatal().Err(err).Msg("Pricing failed")
		}
	default:
		log.Fatal().Str("mode", mode).Msg("Unknown mode, expected price or serve")
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.ServerPort,
		Estimation: cfg.EstimationParams(),
		Strategy:   cfg.Strategy(),
		Workers:    cfg.SamplerWorkers,
		Seed:       cfg.SamplerSeed,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.ServerPort).Msg("Rainbow pricing service started")

	// Wait for interrupt signal
	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	// In-flight pricing runs get 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func price(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	scenario := rainbow.DefaultScenario()
	scenario.Encoding.Strategy = cfg.Strategy()

	pricer, err := rainbow.NewPricer(scenario, rainbow.Options{
		Estimation: cfg.EstimationParams(),
		Workers:    cfg.SamplerWorkers,
		Seed:       cfg.SamplerSeed,
	}, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("strategy", string(scenario.Encoding.Strategy)).
		Float64("epsilon", cfg.Estimation.Epsilon).
		Float64("alpha", cfg.Estimation.Alpha).
		Str("confint", cfg.Estimation.ConfidenceInterval).
		Int("workers", cfg.SamplerWorkers).
		Msg("Starting rainbow pricing")

	quote, err := pricer.Price(ctx)
	if err != nil {
		return err
	}

	for i, r := range quote.Estimate.Rounds {
		log.Info().
			Int("round", i+1).
			Int("depth", r.Depth).
			Int("shots", r.Shots).
			Int("hits", r.Hits).
			Float64("low", r.Estimate.Low).
			Float64("high", r.Estimate.High).
			Bool("reset", r.Reset).
			Msg("Round")
	}

	log.Info().
		Str("run_id", quote.Estimate.RunID).
		Float64("probability", quote.Estimate.PointEstimate).
		Float64("probability_low", quote.Estimate.Interval.Low).
		Float64("probability_high", quote.Estimate.Interval.High).
		Float64("probability_exact", quote.Exact).
		Float64("payoff", quote.ScaledPayoff).
		Float64("payoff_low", quote.ScaledInterval.Low).
		Float64("payoff_high", quote.ScaledInterval.High).
		Float64("payoff_exact", quote.ScaledExact).
		Float64("mean_hit_rate", quote.MeanHitRate).
		Int("total_shots", quote.Estimate.TotalShots).
		Int("oracle_queries", quote.Estimate.OracleQueries).
		Int("controlled_rotations", quote.Resources.ControlledRotations).
		Int("comparator_gates", quote.Resources.ComparatorGates).
		Int("aux_qubits", quote.Resources.AuxiliaryQubits).
		Msg("Quote")

	return nil
}
