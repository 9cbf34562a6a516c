package subject

import (
	"context"
	"errors"
	"strings"
	"time"

	"remind/internal/notification"
	"remind/internal/recurrence"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("subject not found")
	ErrInvalid  = errors.New("invalid subject")
)

// Schedules is the reminder side of the subject lifecycle.
type Schedules interface {
	CreateSchedule(ctx context.Context, subjectID uint64, dueAt time.Time) (*notification.Reminder, error)
	RescheduleSchedule(ctx context.Context, subjectID uint64, dueAt time.Time) (*notification.Reminder, error)
	CancelSchedule(ctx context.Context, subjectID uint64) error
}

type Service struct {
	DB        *gorm.DB
	Schedules Schedules
	Log       zerolog.Logger
	Now       func() time.Time
}

func NewService(db *gorm.DB, schedules Schedules, log zerolog.Logger) *Service {
	return &Service{
		DB:        db,
		Schedules: schedules,
		Log:       log.With().Str("component", "subject").Logger(),
		Now:       time.Now,
	}
}

type Input struct {
	FirstName   string
	LastName    string
	Location    string
	DateOfEvent time.Time
	Phone       string
}

// Patch carries the fields to change; nil means unchanged.
type Patch struct {
	FirstName   *string
	LastName    *string
	Location    *string
	DateOfEvent *time.Time
	Phone       *string
}

func (in *Input) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Location = strings.TrimSpace(in.Location)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.FirstName == "" || in.LastName == "" || in.Location == "" || in.DateOfEvent.IsZero() {
		return ErrInvalid
	}
	in.DateOfEvent = truncateDay(in.DateOfEvent)
	return nil
}

// Create stores the subject and arms its reminder for the next anniversary.
func (s *Service) Create(ctx context.Context, in Input) (*Subject, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	sub := Subject{
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Location:    in.Location,
		DateOfEvent: in.DateOfEvent,
		Phone:       in.Phone,
	}
	if err := s.DB.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, err
	}

	due := recurrence.Next(sub.DateOfEvent, s.Now())
	if _, err := s.Schedules.CreateSchedule(ctx, sub.ID, due); err != nil {
		// Undo so a subject never exists without its reminder.
		if derr := s.DB.WithContext(ctx).Delete(&Subject{}, sub.ID).Error; derr != nil {
			s.Log.Error().Err(derr).Uint64("subject_id", sub.ID).Msg("rollback subject failed")
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*Subject, error) {
	var sub Subject
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Subject, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []Subject
	err := s.DB.WithContext(ctx).Order("id asc").Limit(limit).Find(&rows).Error
	return rows, err
}

// Update applies p and rearms the reminder when the anniversary moved.
func (s *Service) Update(ctx context.Context, id uint64, p Patch) (*Subject, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	in := Input{
		FirstName:   sub.FirstName,
		LastName:    sub.LastName,
		Location:    sub.Location,
		DateOfEvent: sub.DateOfEvent,
		Phone:       sub.Phone,
	}
	if p.FirstName != nil {
		in.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		in.LastName = *p.LastName
	}
	if p.Location != nil {
		in.Location = *p.Location
	}
	if p.DateOfEvent != nil {
		in.DateOfEvent = *p.DateOfEvent
	}
	if p.Phone != nil {
		in.Phone = *p.Phone
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	moved := !sameDay(in.DateOfEvent, sub.DateOfEvent)

	sub.FirstName = in.FirstName
	sub.LastName = in.LastName
	sub.Location = in.Location
	sub.DateOfEvent = in.DateOfEvent
	sub.Phone = in.Phone
	if err := s.DB.WithContext(ctx).Save(sub).Error; err != nil {
		return nil, err
	}

	if moved {
		due := recurrence.Next(sub.DateOfEvent, s.Now())
		_, err := s.Schedules.RescheduleSchedule(ctx, sub.ID, due)
		switch {
		case errors.Is(err, notification.ErrConflict):
			// In flight; the delivery recomputes the next run from the
			// updated subject when it finishes.
			s.Log.Warn().Uint64("subject_id", sub.ID).Msg("reminder in flight, reschedule deferred")
		case err != nil:
			return nil, err
		}
	}
	return sub, nil
}

// Delete cancels the subject's reminder and removes the subject.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.Schedules.CancelSchedule(ctx, id); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Delete(&Subject{}, id).Error
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return truncateDay(a).Equal(truncateDay(b))
}
