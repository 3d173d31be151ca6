// Package scheduler runs the ingest and vectorize steps on a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"eures-rank/internal/logger"
)

// Step is one stage of a cycle. A failing step ends the cycle; the next tick starts over.
type Step struct {
	Name string
	Run  func(ctx context.Context, log *zap.Logger) error
}

// Scheduler wraps robfig/cron. Ticks that arrive while a cycle is still
// running are dropped.
type Scheduler struct {
	cron  *cron.Cron
	spec  string
	steps []Step
	log   *zap.Logger
	job   cron.Job
	ctx   context.Context
}

func New(spec string, log *zap.Logger, steps ...Step) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		cron:  cron.New(cron.WithLogger(cl)),
		spec:  spec,
		steps: steps,
		log:   log,
	}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { s.cycle(s.ctx) }))
	return s
}

// Run registers the cycle, runs it once immediately and blocks until ctx is
// done. It returns after the cycle in flight, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddJob(s.spec, s.job); err != nil {
		return fmt.Errorf("cron.AddJob %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", s.spec))

	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		s.job.Run()
	}()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	first.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log := logger.WithRun(s.log, "cycle")
	started := time.Now()
	log.Info("cycle started")
	for _, step := range s.steps {
		if err := step.Run(ctx, log); err != nil {
			log.Error("cycle step failed", zap.String("step", step.Name), zap.Error(err))
			return
		}
	}
	log.Info("cycle complete", zap.Duration("took", time.Since(started)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
