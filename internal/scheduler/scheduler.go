// Package scheduler runs the background checkpoint/VACUUM daemon:
// periodically flushing every open database's buffer pool, persisting
// its catalog, and compacting its heap pages, so a long-lived server
// doesn't rely on an explicit SAVE/VACUUM from a client.
//
// Grounded on tinySQL's storage.Scheduler/JobExecutor shape (a
// cron.Cron instance plus a small executor interface to avoid a
// circular import back into the caller's package), generalized from
// "run arbitrary catalog jobs" to "checkpoint + VACUUM every open
// database on a fixed interval" per spec §9's Lifecycles note. Uses
// github.com/robfig/cron/v3, the teacher's own direct dependency.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is one database the scheduler keeps maintained. DatabaseManager
// implements this once per open database.
type Target interface {
	Name() string
	Checkpoint(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// TargetLister supplies the current set of open databases at each tick,
// since databases can be opened/closed between runs.
type TargetLister func() []Target

// Scheduler drives periodic checkpoint+VACUUM passes across every
// database TargetLister currently reports open.
type Scheduler struct {
	cron     *cron.Cron
	targets  TargetLister
	log      *slog.Logger
	entryID  cron.EntryID
	interval time.Duration
}

// New builds a Scheduler that runs a pass every interval; cron's "@every"
// schedule rounds an interval under one second up to one second. Call
// Start to begin; Stop to halt and wait for any in-flight pass to finish.
func New(targets TargetLister, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		targets:  targets,
		log:      log,
		interval: interval,
	}
}

// Start registers the periodic job and starts the cron loop.
func (s *Scheduler) Start() error {
	spec := "@every " + s.interval.String()
	id, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for any running job to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunNow performs one checkpoint+VACUUM pass immediately, outside the
// cron schedule — used by the `SAVE` statement and by tests.
func (s *Scheduler) RunNow() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	ctx := context.Background()
	for _, t := range s.targets() {
		if err := t.Checkpoint(ctx); err != nil {
			s.log.Error("scheduled checkpoint failed", "database", t.Name(), "err", err)
			continue
		}
		if err := t.Vacuum(ctx); err != nil {
			s.log.Error("scheduled vacuum failed", "database", t.Name(), "err", err)
		}
	}
}
