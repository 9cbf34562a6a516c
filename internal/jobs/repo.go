package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Channel is the PostgreSQL NOTIFY channel poked on every enqueue.
const Channel = "dispatch_jobs"

var ErrNotFound = errors.New("job not found")

type Repo struct {
	DB   *gorm.DB
	Opts Options
	Now  func() time.Time
}

func NewRepo(db *gorm.DB, opts Options) *Repo {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Repo{DB: db, Opts: opts, Now: time.Now}
}

func (r *Repo) now() time.Time { return r.Now().UTC() }

func (r *Repo) postgres() bool { return r.DB.Dialector.Name() == "postgres" }

// Enqueue stores a job that is due immediately.
func (r *Repo) Enqueue(ctx context.Context, name string, payload any) (*Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := r.now()
	j := Job{
		Name:        name,
		Payload:     b,
		RunAt:       now,
		Status:      StatusPending,
		MaxAttempts: r.Opts.Attempts,
		BackoffType: r.Opts.Backoff.Type,
		BackoffMS:   r.Opts.Backoff.Delay.Milliseconds(),
	}
	if j.BackoffType == "" {
		j.BackoffType = BackoffFixed
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&j).Error; err != nil {
			return err
		}
		if r.postgres() {
			// delivered on commit
			return tx.Exec(`select pg_notify(?, ?)`, Channel, name).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) Count(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&Job{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// Claim one due job atomically. Returns nil, nil when nothing is due or the
// candidate was taken by another worker.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	now := r.now()
	var job Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue RUNNING jobs whose worker went away
		if r.Opts.StaleLock > 0 {
			if err := tx.Model(&Job{}).
				Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", StatusRunning, now.Add(-r.Opts.StaleLock)).
				Updates(map[string]any{
					"status":     StatusPending,
					"locked_by":  nil,
					"locked_at":  nil,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		if r.postgres() {
			// FOR UPDATE SKIP LOCKED ensures no double-claim
			return tx.Raw(`
with cte as (
  select id
  from dispatch_jobs
  where status = 'PENDING' and run_at <= ?
  order by run_at asc, id asc
  for update skip locked
  limit 1
)
update dispatch_jobs
set status = 'RUNNING', attempts = attempts + 1, locked_by = ?, locked_at = ?, updated_at = ?
where id in (select id from cte)
returning *;
`, now, workerID, now, now).Scan(&job).Error
		}

		// Portable path: pick a candidate, then take it with a conditional update.
		var cand Job
		err := tx.Where("status = ? AND run_at <= ?", StatusPending, now).
			Order("run_at asc, id asc").
			Take(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", cand.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_by":  workerID,
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return tx.Where("id = ?", cand.ID).First(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a running job done and trims old completed jobs.
func (r *Repo) Complete(ctx context.Context, job *Job) error {
	now := r.now()
	err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusRunning).
		Updates(map[string]any{
			"status":      StatusDone,
			"locked_by":   nil,
			"locked_at":   nil,
			"finished_at": now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return err
	}
	job.Status = StatusDone
	job.FinishedAt = &now
	return r.prune(ctx, StatusDone, r.Opts.RemoveOnComplete)
}

// Fail records cause on a running job. The job is retried after its backoff
// while attempts remain; otherwise it is dead-lettered and dead is true.
func (r *Repo) Fail(ctx context.Context, job *Job, cause error) (dead bool, err error) {
	now := r.now()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	updates := map[string]any{
		"locked_by":  nil,
		"locked_at":  nil,
		"last_error": msg,
		"updated_at": now,
	}
	dead = job.Attempts >= job.MaxAttempts
	if dead {
		updates["status"] = StatusFailed
		updates["finished_at"] = now
	} else {
		b := Backoff{Type: job.BackoffType, Delay: time.Duration(job.BackoffMS) * time.Millisecond}
		updates["status"] = StatusPending
		updates["run_at"] = now.Add(b.Next(job.Attempts))
	}

	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusRunning).
		Updates(updates).Error; err != nil {
		return dead, err
	}
	job.LastError = &msg
	job.Status = updates["status"].(Status)
	if !dead {
		return false, nil
	}
	job.FinishedAt = &now
	return true, r.prune(ctx, StatusFailed, r.Opts.RemoveOnFail)
}

// prune keeps the newest keep jobs in status; keep < 0 keeps everything.
func (r *Repo) prune(ctx context.Context, status Status, keep int) error {
	if keep < 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Exec(`
delete from dispatch_jobs
where status = ?
  and id not in (
    select id from dispatch_jobs
    where status = ?
    order by finished_at desc, id desc
    limit ?
  )`, status, status, keep).Error
}
