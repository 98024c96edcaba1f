package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/executor"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/ops"
	"github.com/gridpilot/gridpilot/pkg/storage"
)

func main() {
	// a local .env can carry broker/firestore settings during development
	_ = godotenv.Load()

	// init packages
	s := storage.Configured()
	pub := ops.Configured()

	configPath := lflag.String("config", "gridpilot.yaml", "Path to the planner configuration file")
	siteID := lflag.String("site-id", "default", "Site identifier for storage and ops topics")
	tickEvery := lflag.Duration("tick-every", 5*time.Minute, "Executor tick interval")
	balanceEvery := lflag.Duration("balance-every", 0, "Balancer interval (0 disables)")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level := log.LevelFromLLog()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
		if err := pub.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close ops publisher", "error", err)
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// Concrete protocol drivers are wired in by embedding applications; the
	// built-in mock lets a fresh install dry-run the whole loop.
	fleet := inverter.NewFleet(inverter.NewMock("mock-0", inverter.Capabilities{
		HasTimedPause:       true,
		CanSpanMidnight:     true,
		HasTargetSOC:        true,
		HasChargeEnableTime: true,
		HasReserveSOC:       true,
	}, inverter.State{
		SOCKWH:             cfg.Battery.SOCMaxKWH / 2,
		SOCPercent:         50,
		SOCMaxKWH:          cfg.Battery.SOCMaxKWH,
		ReserveKWH:         cfg.Battery.ReserveKWH,
		ReserveMaxPercent:  100,
		RateMaxChargeKW:    cfg.Battery.RateMaxChargeKW,
		RateMaxDischargeKW: cfg.Battery.RateMaxDischargeKW,
		InverterLimitKW:    cfg.Battery.InverterLimitKW,
		ExportLimitKW:      cfg.Battery.ExportLimitKW,
	}))
	exec := executor.New(fleet)
	pub.OnSafeMode(func() {
		log.Ctx(ctx).InfoContext(ctx, "safe mode requested")
		exec.RequestReset("mode")
	})

	if err := run(ctx, s, pub, exec, fleet, cfg, *siteID, *tickEvery, *balanceEvery); err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "scheduler exited cleanly")
}

// run is the tick scheduler: one executor tick per interval, with the
// balancer interleaved between ticks when enabled. The executor, aggregator,
// and balancer run sequentially so a fleet is never written concurrently.
func run(
	ctx context.Context,
	db storage.Database,
	pub ops.Publisher,
	exec *executor.Executor,
	fleet *inverter.Fleet,
	cfg *config.Config,
	siteID string,
	tickEvery, balanceEvery time.Duration,
) error {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	var balance <-chan time.Time
	if balanceEvery > 0 {
		bt := time.NewTicker(balanceEvery)
		defer bt.Stop()
		balance = bt.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-balance:
			if err := exec.Balance(ctx, cfg.Balance); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "balance pass failed", "error", err)
			}
		case now := <-ticker.C:
			if err := tick(ctx, db, pub, exec, fleet, cfg, siteID, now); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "tick failed", "error", err)
			}
		}
	}
}

func tick(
	ctx context.Context,
	db storage.Database,
	pub ops.Publisher,
	exec *executor.Executor,
	fleet *inverter.Fleet,
	cfg *config.Config,
	siteID string,
	now time.Time,
) error {
	if err := fleet.Refresh(ctx); err != nil {
		return err
	}

	plan, err := db.GetPlan(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			log.Ctx(ctx).InfoContext(ctx, "no plan yet, staying in demand mode")
			return nil
		}
		return err
	}

	flags, _, err := db.GetFlags(ctx, siteID)
	if err != nil {
		flags = cfg.Flags
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	minutesNow := int(now.Sub(midnight).Minutes())

	agg := fleet.Aggregate()
	chargePlan := plan.ChargePlan(agg.SOCMaxKWH)
	exportPlan := plan.ExportPlan()

	outcome := exec.Tick(ctx, executor.TickInputs{
		MinutesNow:      minutesNow,
		MidnightUTC:     midnight,
		Flags:           flags,
		Battery:         cfg.Battery,
		ChargeWindows:   chargePlan.Windows,
		ChargeLimitsKWH: chargePlan.LimitsKWH,
		ExportWindows:   exportPlan.Windows,
		ExportLimits:    exportPlan.Limits,
		IBoost:          cfg.IBoost,
		BestSOCMinKWH:   cfg.BestSOCMinKWH,
	})

	if err := db.InsertTickOutcome(ctx, siteID, outcome); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist tick outcome", "error", err)
	}
	if err := pub.PublishOutcome(ctx, siteID, outcome); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish tick outcome", "error", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "tick complete",
		slog.String("status", outcome.Status),
		slog.String("statusExtra", outcome.StatusExtra),
		slog.Int("writeFailures", outcome.WriteFailures),
	)
	return nil
}

