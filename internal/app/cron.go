package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	pkgcron "github.com/confesso/core/internal/pkg/cron"
)

const (
	pruneReportsInterval = 12 * time.Hour
	cleanupLogsInterval  = 24 * time.Hour
	logRetentionDays     = 14
)

// registerJobs registers all scheduled background jobs.
func (a *App) registerJobs() {
	cronLogger := a.logger.Named("CronService")

	a.sched.Register(pkgcron.Job{
		Name:        "prune_reports",
		Description: "Remove denúncias de segredos que já foram apagados",
		Interval:    pruneReportsInterval,
		Fn: func(ctx context.Context) error {
			n, err := a.reportSvc.PruneOrphans(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				cronLogger.Info("orphan reports removed", zap.Int("count", n))
			}
			return nil
		},
	})

	if a.logs == nil {
		return
	}
	a.sched.Register(pkgcron.Job{
		Name:        "cleanup_logs",
		Description: "Apaga arquivos de log com mais de 14 dias",
		Interval:    cleanupLogsInterval,
		Fn: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -logRetentionDays)
			n, err := a.logs.Cleanup(cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				cronLogger.Info("old log files removed", zap.Int("count", n))
			}
			return nil
		},
	})
}
