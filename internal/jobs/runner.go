package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one claimed job. A non-nil error hands the job back to
// the queue's retry/backoff policy.
type Handler func(ctx context.Context, job *Job) error

// Runner polls the queue and feeds claimed jobs to Handler.
type Runner struct {
	ID           string
	Repo         *Repo
	Handler      Handler
	Concurrency  int
	PollInterval time.Duration
	// Wake, when set, triggers an immediate poll (see Listen).
	Wake <-chan struct{}
	Log  zerolog.Logger
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
func (r *Runner) Run(ctx context.Context) {
	n := r.Concurrency
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			r.loop(ctx, fmt.Sprintf("%s/%d", r.ID, slot))
		}(i)
	}
	wg.Wait()
	r.Log.Info().Str("runner", r.ID).Msg("runner stopped")
}

func (r *Runner) loop(ctx context.Context, workerID string) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.Wake:
		}
		r.drain(ctx, workerID)
	}
}

// drain handles due jobs back to back until the queue is empty.
func (r *Runner) drain(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := r.Repo.Claim(ctx, workerID)
		if err != nil {
			r.Log.Error().Err(err).Str("worker", workerID).Msg("job claim failed")
			return
		}
		if job == nil {
			return
		}
		r.process(ctx, workerID, job)
	}
}

func (r *Runner) process(ctx context.Context, workerID string, job *Job) {
	// No cancellation for in-flight jobs: shutdown only stops new claims.
	jctx := context.WithoutCancel(ctx)
	log := r.Log.With().
		Uint64("job_id", job.ID).
		Str("job", job.Name).
		Int("attempt", job.Attempts).
		Str("worker", workerID).
		Logger()

	herr := r.handle(jctx, job)
	if herr == nil {
		if err := r.Repo.Complete(jctx, job); err != nil {
			log.Error().Err(err).Msg("job complete failed")
			return
		}
		log.Info().Msg("job completed")
		return
	}

	dead, err := r.Repo.Fail(jctx, job, herr)
	if err != nil {
		log.Error().Err(err).AnErr("cause", herr).Msg("job fail failed")
		return
	}
	if dead {
		log.Error().Err(herr).Msg("job dead-lettered")
		return
	}
	log.Warn().Err(herr).Time("retry_at", time.Now().Add(Backoff{
		Type:  job.BackoffType,
		Delay: time.Duration(job.BackoffMS) * time.Millisecond,
	}.Next(job.Attempts))).Msg("job failed, will retry")
}

func (r *Runner) handle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %d panicked: %v", job.ID, rec)
		}
	}()
	return r.Handler(ctx, job)
}
