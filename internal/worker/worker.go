// Package worker executes dispatch jobs: it delivers a claimed reminder and
// closes its cycle as SCHEDULED (rearmed for the next anniversary) or FAILED.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remind/internal/delivery"
	"remind/internal/jobs"
	"remind/internal/notification"
	"remind/internal/recurrence"
	"remind/internal/subject"

	"github.com/rs/zerolog"
)

var (
	ErrReminderNotFound = errors.New("reminder not found")
	ErrSubjectNotFound  = errors.New("subject not found")
)

const finalizeRetries = 3

type Reminders interface {
	Get(ctx context.Context, id uint64) (*notification.Reminder, error)
	Transition(ctx context.Context, r *notification.Reminder, from []notification.Status, ch notification.Change) error
}

type Subjects interface {
	Get(ctx context.Context, id uint64) (*subject.Subject, error)
}

type Worker struct {
	reminders Reminders
	subjects  Subjects
	sink      delivery.Sink
	log       zerolog.Logger
	now       func() time.Time
}

func New(reminders Reminders, subjects Subjects, sink delivery.Sink, log zerolog.Logger) *Worker {
	return &Worker{
		reminders: reminders,
		subjects:  subjects,
		sink:      sink,
		log:       log.With().Str("component", "worker").Logger(),
		now:       time.Now,
	}
}

// Handle is the jobs.Handler for notification.JobSendNotification.
func (w *Worker) Handle(ctx context.Context, job *jobs.Job) error {
	if job.Name != notification.JobSendNotification {
		return fmt.Errorf("unknown job %q", job.Name)
	}
	var d notification.Dispatch
	if err := job.Decode(&d); err != nil {
		return err
	}
	return w.Process(ctx, d, job.Attempts)
}

// Process runs one delivery cycle. attempt is the queue's 1-based attempt
// number for the job. The reminder is always written back before Process
// returns, so a resolved job never leaves it PROCESSING. The returned error
// goes back to the queue, whose retry policy decides on redelivery.
func (w *Worker) Process(ctx context.Context, d notification.Dispatch, attempt int) error {
	log := w.log.With().
		Uint64("reminder_id", d.ReminderID).
		Uint64("subject_id", d.SubjectID).
		Int("attempt", attempt).
		Logger()

	r, err := w.reminders.Get(ctx, d.ReminderID)
	if errors.Is(err, notification.ErrNotFound) {
		log.Warn().Msg(ErrReminderNotFound.Error())
		return ErrReminderNotFound
	}
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}

	if !w.deliverable(r, attempt) {
		// Duplicate job from a crash window: this cycle is already closed.
		log.Info().Str("status", string(r.Status)).Msg("stale job, nothing to do")
		return nil
	}

	sub, err := w.subjects.Get(ctx, d.SubjectID)
	if err != nil {
		if errors.Is(err, subject.ErrNotFound) {
			err = ErrSubjectNotFound
		}
		return w.fail(ctx, log, r, err)
	}

	msg := delivery.Message{
		Message:    delivery.Render(string(r.Kind), sub.FullName()),
		SubjectID:  sub.ID,
		ReminderID: r.ID,
		Kind:       string(r.Kind),
		Timestamp:  w.now().UTC(),
		Phone:      sub.Phone,
	}
	if err := w.sink.Deliver(ctx, msg); err != nil {
		return w.fail(ctx, log, r, err)
	}

	return w.succeed(ctx, log, r, sub)
}

// deliverable reports whether r is in a state this job may act on. A FAILED
// reminder is only picked up again by a queue retry of the same cycle.
func (w *Worker) deliverable(r *notification.Reminder, attempt int) bool {
	switch r.Status {
	case notification.StatusProcessing:
		return true
	case notification.StatusFailed:
		return attempt > 1
	}
	return false
}

func (w *Worker) succeed(ctx context.Context, log zerolog.Logger, r *notification.Reminder, sub *subject.Subject) error {
	now := w.now().UTC()

	err := w.finalize(ctx, r, func(cur *notification.Reminder) notification.Change {
		next := NextRun(sub.DateOfEvent, cur.NextRunAt, now)
		return notification.Change{
			To:        notification.StatusScheduled,
			NextRunAt: &next,
			Audit: notification.Audit{
				notification.AuditLastSentAt: now,
				notification.AuditSentCount:  cur.Audit.Int(notification.AuditSentCount) + 1,
			},
		}
	})
	if err != nil {
		// Delivered but not recorded; the queue retries and the state check
		// above decides whether it is still ours.
		log.Error().Err(err).Msg("record delivery failed")
		return fmt.Errorf("record delivery: %w", err)
	}

	log.Info().Time("next_run_at", r.NextRunAt).Msg("delivered")
	return nil
}

func (w *Worker) fail(ctx context.Context, log zerolog.Logger, r *notification.Reminder, cause error) error {
	now := w.now().UTC()

	err := w.finalize(ctx, r, func(cur *notification.Reminder) notification.Change {
		return notification.Change{
			To: notification.StatusFailed,
			Audit: notification.Audit{
				notification.AuditLastFailedAt:  now,
				notification.AuditFailureReason: cause.Error(),
				notification.AuditFailureCount:  cur.Audit.Int(notification.AuditFailureCount) + 1,
			},
		}
	})
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("record failure failed")
		return errors.Join(cause, err)
	}

	log.Warn().Err(cause).Int("failure_count", r.Audit.Int(notification.AuditFailureCount)).Msg("delivery failed")
	return cause
}

// finalize writes the change built from the current row, reloading and
// rebuilding it when a concurrent writer bumped the version in between.
func (w *Worker) finalize(ctx context.Context, r *notification.Reminder, build func(*notification.Reminder) notification.Change) error {
	from := []notification.Status{notification.StatusProcessing, notification.StatusFailed}

	for i := 0; ; i++ {
		err := w.reminders.Transition(ctx, r, from, build(r))
		if !errors.Is(err, notification.ErrConflict) || i == finalizeRetries-1 {
			return err
		}
		cur, gerr := w.reminders.Get(ctx, r.ID)
		if gerr != nil {
			return gerr
		}
		*r = *cur
	}
}

// NextRun is the due instant after a successful delivery: the anniversary's
// next occurrence strictly after the run that just fired, moved forward to
// now when the reminder was overdue by more than a year.
func NextRun(anniversary, prev, now time.Time) time.Time {
	next := recurrence.After(anniversary, prev)
	if next.Before(now) {
		next = recurrence.After(anniversary, now)
	}
	return next
}
