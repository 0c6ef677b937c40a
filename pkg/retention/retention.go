package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"ridechat/pkg/archive"
	"ridechat/pkg/config"
	"ridechat/pkg/logger"
)

// Start starts the archive purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, arc *archive.Archive) (context.CancelFunc, error) {
	if !cfg.Enabled || arc == nil {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	period := cfg.Period.Duration()
	if period <= 0 {
		return nil, fmt.Errorf("retention enabled but no period configured")
	}

	// map empty cron to default daily @02:00
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, arc, period, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, arc *archive.Archive, period time.Duration, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}

		if err := RunOnce(arc, period); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce purges archive entries older than the retention period.
func RunOnce(arc *archive.Archive, period time.Duration) error {
	cutoff := time.Now().UTC().Add(-period).UnixNano()
	n, err := arc.Purge(cutoff)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete", "deleted", n)
	return nil
}
