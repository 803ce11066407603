package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DayMaterializer is implemented by service.SessionService.
type DayMaterializer interface {
	MaterializeDay(ctx context.Context) (int, error)
}

type Config struct {
	Schedule string         // cron spec, e.g. "5 0 * * *"; empty disables the job
	Timeout  time.Duration  // per run
	Location *time.Location // zone the spec is read in
}

/*
StartMaterializeJob pre-materializes today's occurrence of every active
classroom on a schedule. Overlapping runs are skipped. Returns nil, nil when
no schedule is configured; the caller stops the returned cron on shutdown.
*/
func StartMaterializeJob(svc DayMaterializer, cfg Config, log *zap.Logger) (*cron.Cron, error) {
	if cfg.Schedule == "" {
		return nil, nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log = log.Named("materialize-job")

	cl := cron.PrintfLogger(zap.NewStdLog(log))
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(cfg.Schedule, func() {
		runOnce(context.Background(), svc, cfg.Timeout, log)
	}); err != nil {
		return nil, fmt.Errorf("add cron %q: %w", cfg.Schedule, err)
	}
	log.Info("started", zap.String("schedule", cfg.Schedule), zap.String("tz", cfg.Location.String()))
	c.Start()
	return c, nil
}

func runOnce(ctx context.Context, svc DayMaterializer, timeout time.Duration, log *zap.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := svc.MaterializeDay(ctx)
	if err != nil {
		log.Error("run failed", zap.Int("created", n), zap.Duration("dur", time.Since(start)), zap.Error(err))
		return n
	}
	log.Info("run done", zap.Int("created", n), zap.Duration("dur", time.Since(start)))
	return n
}
