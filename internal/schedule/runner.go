// Package schedule runs periodic jobs such as decline analysis.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Runner wraps a cron scheduler. Overlapping runs of the same job are
// skipped and panics are recovered.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a Runner whose jobs run with baseCtx. Specs accept an
// optional seconds field and descriptors such as "@every 15m".
func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := cronLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			cron.WithLogger(logger),
		),
		baseCtx: baseCtx,
	}
}

// Add registers job under name on spec.
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			zap.L().Error("schedule: job failed", zap.String("job", name), zap.Error(err))
			return
		}
		zap.L().Debug("schedule: job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return 0, eris.Wrapf(err, "schedule: add %s %q", name, spec)
	}
	zap.L().Info("schedule: job registered", zap.String("job", name), zap.String("spec", spec))
	return id, nil
}

// Start runs the scheduler in the background.
func (r *Runner) Start() {
	r.cron.Start()
	zap.L().Info("schedule: started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	zap.L().Info("schedule: stopped")
}

// cronLogger adapts the global zap logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
