package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. It receives a context that is
// cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules with a seconds field, e.g.
// "0 5 0 * * *" or "@every 1h". A run that is still going when the next
// one is due makes the next one skip.
type Scheduler struct {
	cron   *cron.Cron
	chain  cron.Chain
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLogger(cl)),
		chain:  cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) AddJob(schedule, name string, job Job) error {
	if _, err := s.cron.AddJob(schedule, s.wrap(name, job)); err != nil {
		return err
	}
	s.logger.Info("Job registered", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// RunNow executes job once outside its schedule and waits for it.
func (s *Scheduler) RunNow(name string, job Job) {
	s.wrap(name, job).Run()
}

func (s *Scheduler) wrap(name string, job Job) cron.Job {
	return s.chain.Then(cron.FuncJob(func() {
		start := time.Now()
		s.logger.Info("Running job", zap.String("job", name))
		err := job(s.ctx)
		switch {
		case errors.Is(err, domain.ErrCycleInProgress):
			s.logger.Info("Job skipped, a cycle is already running", zap.String("job", name))
		case err != nil:
			s.logger.Error("Job failed", zap.String("job", name), zap.Error(err), zap.Duration("took", time.Since(start)))
		default:
			s.logger.Info("Job completed", zap.String("job", name), zap.Duration("took", time.Since(start)))
		}
	}))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
