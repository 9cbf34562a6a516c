// Package scheduler finds due reminders and hands each one to the dispatch
// queue exactly once per due cycle.
//
// Several schedulers may run against the same store. There is no leader: the
// store's conditional claim decides which instance enqueues a reminder, the
// others see ErrConflict and move on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remind/internal/jobs"
	"remind/internal/notification"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSpec = "*/15 * * * *"

type Store interface {
	FindDue(ctx context.Context, now time.Time) ([]notification.Reminder, error)
	Claim(ctx context.Context, r *notification.Reminder, now time.Time) error
	Release(ctx context.Context, r *notification.Reminder, to notification.Status, now time.Time) error
}

type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) (*jobs.Job, error)
}

// TickReport summarizes one scan.
type TickReport struct {
	Found    int `json:"found"`
	Claimed  int `json:"claimed"`
	Skipped  int `json:"skipped"`
	Enqueued int `json:"enqueued"`
	Errors   int `json:"errors"`
}

type Scheduler struct {
	store Store
	queue Queue
	log   zerolog.Logger
	spec  string
	now   func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

// WithSpec sets the cron expression driving ticks.
func WithSpec(spec string) Option {
	return func(s *Scheduler) { s.spec = spec }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a stopped scheduler; nothing runs until Start.
func New(store Store, queue Queue, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "scheduler").Logger(),
		spec:  DefaultSpec,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the periodic tick. A tick still running when the next one
// fires is skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduler spec %q: %w", s.spec, err)
	}
	c.Start()

	s.cron, s.ctx, s.cancel = c, ctx, cancel
	s.log.Info().Str("spec", s.spec).Msg("scheduler started")
	return nil
}

// Stop halts future ticks and waits for a running one to return, or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	defer cancel()
	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs one tick synchronously, same as a timer tick.
func (s *Scheduler) Trigger(ctx context.Context) TickReport {
	s.log.Info().Msg("manual tick")
	return s.Tick(ctx)
}

// Tick scans for due reminders, claims each and enqueues a dispatch job per
// claim. Failures are per reminder and never stop the batch.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var rep TickReport
	now := s.now().UTC()

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("due scan failed")
		rep.Errors++
		return rep
	}
	rep.Found = len(due)
	s.log.Info().Int("found", rep.Found).Msg("due scan")

	for i := range due {
		s.dispatch(ctx, &due[i], now, &rep)
	}

	s.log.Info().
		Int("claimed", rep.Claimed).
		Int("skipped", rep.Skipped).
		Int("enqueued", rep.Enqueued).
		Int("errors", rep.Errors).
		Msg("tick done")
	return rep
}

func (s *Scheduler) dispatch(ctx context.Context, r *notification.Reminder, now time.Time, rep *TickReport) {
	log := s.log.With().Uint64("reminder_id", r.ID).Uint64("subject_id", r.SubjectID).Logger()
	prev := r.Status

	err := s.store.Claim(ctx, r, now)
	if errors.Is(err, notification.ErrConflict) {
		log.Debug().Msg("already claimed elsewhere")
		rep.Skipped++
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("claim failed")
		rep.Errors++
		return
	}
	rep.Claimed++

	// The claim is held from here on; a cancelled scan must still either
	// queue the job or hand the reminder back.
	ctx = context.WithoutCancel(ctx)

	job, err := s.queue.Enqueue(ctx, notification.JobSendNotification, notification.Dispatch{
		ReminderID: r.ID,
		SubjectID:  r.SubjectID,
		Kind:       r.Kind,
	})
	if err != nil {
		log.Error().Err(err).Msg("enqueue failed")
		rep.Errors++
		// Hand the reminder back so the next tick retries it instead of
		// leaving it PROCESSING with no job behind it.
		if rerr := s.store.Release(ctx, r, prev, now); rerr != nil {
			log.Error().Err(rerr).Msg("release after failed enqueue")
		}
		return
	}
	rep.Enqueued++
	log.Info().Uint64("job_id", job.ID).Msg("queued")
}
