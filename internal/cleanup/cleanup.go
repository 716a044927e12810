// Package cleanup runs the scheduled maintenance pass: purging old
// soft-deleted messages, trimming the room to capacity, sweeping expired
// bans and rolling the daily counters.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"pollchat/pkg/config"
	"pollchat/pkg/logger"
	"pollchat/pkg/store"
	"pollchat/pkg/telemetry"
)

// Start starts the cleanup scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	cl := cfg.Cleanup
	if !cl.Enabled {
		logger.Info("cleanup_disabled")
		return func() {}, nil
	}

	cronExpr := cl.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("cleanup_invalid_cron", "cron", cl.Cron)
		return nil, fmt.Errorf("invalid cleanup cron expression: %s", cl.Cron)
	}

	logger.Info("cleanup_enabled", "cron", cronExpr, "retain_deleted", cl.RetainDeleted.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	logger.Info("cleanup_scheduler_started")
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("cleanup_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("cleanup_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if cfg.Cleanup.Paused {
				logger.Info("cleanup_paused_skipping")
				continue
			}
			if err := RunOnce(ctx, cfg); err != nil {
				logger.Error("cleanup_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("cleanup_scheduler_stopping")
			return
		}
	}
}

// RunOnce executes one full maintenance pass.
func RunOnce(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	now := start.UTC()

	cutoff := now.Add(-cfg.Cleanup.RetainDeleted.Duration())
	purged, err := store.PurgeDeletedBefore(cutoff)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	if purged > 0 {
		telemetry.MessagesPurged.Add(float64(purged))
	}

	trimmed, err := store.TrimToCapacity(cfg.Chat.MaxMessages)
	if err != nil {
		return fmt.Errorf("trim failed: %w", err)
	}
	if trimmed > 0 {
		telemetry.MessagesTrimmed.Add(float64(trimmed))
	}

	swept, err := store.SweepExpiredBans(now)
	if err != nil {
		return fmt.Errorf("ban sweep failed: %w", err)
	}
	if swept > 0 {
		telemetry.BansExpired.Add(float64(swept))
	}

	if err := rollDailyStats(now); err != nil {
		return err
	}
	if err := store.SetStat("last_cleanup", now.Unix()); err != nil {
		return err
	}

	logger.Info("cleanup_run_complete",
		"purged", purged, "trimmed", trimmed, "bans_expired", swept,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// rollDailyStats moves messages_today into messages_yesterday and zeroes
// it when the calendar day changed since the last roll.
func rollDailyStats(now time.Time) error {
	day := int64(now.Year())*10000 + int64(now.Month())*100 + int64(now.Day())
	last, err := store.GetStat("stats_day")
	if err != nil {
		return err
	}
	if last == day {
		return nil
	}
	today, err := store.GetStat("messages_today")
	if err != nil {
		return err
	}
	if err := store.SetStat("messages_yesterday", today); err != nil {
		return err
	}
	if err := store.SetStat("messages_today", 0); err != nil {
		return err
	}
	return store.SetStat("stats_day", day)
}
