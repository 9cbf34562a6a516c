package notification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Service is the entry point the subject side uses to arm, rearm and drop a
// subject's reminder.
type Service struct {
	Store *Store
	Log   zerolog.Logger
	Now   func() time.Time
}

func NewService(store *Store, log zerolog.Logger) *Service {
	return &Service{
		Store: store,
		Log:   log.With().Str("component", "notification").Logger(),
		Now:   time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id uint64) (*Reminder, error) {
	return s.Store.Get(ctx, id)
}

// CreateSchedule arms a PENDING anniversary reminder for the subject.
func (s *Service) CreateSchedule(ctx context.Context, subjectID uint64, dueAt time.Time) (*Reminder, error) {
	now := s.Now().UTC()
	r := &Reminder{
		SubjectID: subjectID,
		Kind:      KindAnniversary,
		Status:    StatusPending,
		NextRunAt: dueAt.UTC(),
		Audit:     Audit{AuditCreatedAt: now},
	}
	if err := s.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.Log.Info().
		Uint64("reminder_id", r.ID).
		Uint64("subject_id", subjectID).
		Time("next_run_at", r.NextRunAt).
		Msg("schedule created")
	return r, nil
}

// RescheduleSchedule moves the subject's reminder to a new due instant and
// rearms it as PENDING. This is also the only way a FAILED reminder comes
// back. A reminder that is PROCESSING is left alone and ErrConflict is
// returned; the in-flight delivery computes its own next run.
func (s *Service) RescheduleSchedule(ctx context.Context, subjectID uint64, dueAt time.Time) (*Reminder, error) {
	rearmable := []Status{StatusPending, StatusScheduled, StatusFailed}

	for attempt := 0; attempt < 3; attempt++ {
		r, err := s.Store.GetBySubject(ctx, subjectID, KindAnniversary)
		if errors.Is(err, ErrNotFound) {
			return s.CreateSchedule(ctx, subjectID, dueAt)
		}
		if err != nil {
			return nil, err
		}
		if r.Status == StatusProcessing {
			return r, ErrConflict
		}

		now := s.Now().UTC()
		err = s.Store.Transition(ctx, r, rearmable, Change{
			To:        StatusPending,
			NextRunAt: &dueAt,
			Audit:     Audit{AuditUpdatedAt: now, AuditRescheduledAt: now},
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.Log.Info().
			Uint64("reminder_id", r.ID).
			Uint64("subject_id", subjectID).
			Time("next_run_at", r.NextRunAt).
			Msg("schedule rearmed")
		return r, nil
	}
	return nil, ErrConflict
}

// CancelSchedule drops every reminder of the subject.
func (s *Service) CancelSchedule(ctx context.Context, subjectID uint64) error {
	n, err := s.Store.DeleteBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	s.Log.Info().Uint64("subject_id", subjectID).Int64("removed", n).Msg("schedule cancelled")
	return nil
}
