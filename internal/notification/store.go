package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrExists   = errors.New("notification already exists")
	// ErrConflict means a conditional update matched no row: the reminder
	// moved to another status or another writer got there first.
	ErrConflict = errors.New("notification changed concurrently")
)

type Store struct {
	DB *gorm.DB
}

// Change describes one conditional write. Audit is merged into the stored
// audit map; NextRunAt is only written when set.
type Change struct {
	To        Status
	NextRunAt *time.Time
	Audit     Audit
}

func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.Audit == nil {
		r.Audit = Audit{}
	}
	r.NextRunAt = r.NextRunAt.UTC()
	err := s.DB.WithContext(ctx).Create(r).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id uint64) (*Reminder, error) {
	var r Reminder
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetBySubject(ctx context.Context, subjectID uint64, kind Kind) (*Reminder, error) {
	var r Reminder
	if err := s.DB.WithContext(ctx).
		Where("subject_id = ? AND kind = ?", subjectID, kind).
		First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// FindDue lists dispatch-eligible reminders whose next run is at or before now.
// The order of the result carries no meaning.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	var rows []Reminder
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND next_run_at <= ?", DispatchEligible, now.UTC()).
		Order("next_run_at asc").
		Find(&rows).Error
	return rows, err
}

// Transition is the single compare-and-set write for reminders. It applies ch
// only if the row still has r's version and one of the from statuses, and
// reports ErrConflict otherwise. On success r reflects the stored row.
func (s *Store) Transition(ctx context.Context, r *Reminder, from []Status, ch Change) error {
	if !slices.Contains(from, r.Status) {
		return ErrConflict
	}

	now := time.Now().UTC()
	merged := r.Audit.Merge(ch.Audit)
	updates := map[string]any{
		"status":     ch.To,
		"audit":      merged,
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	var next time.Time
	if ch.NextRunAt != nil {
		next = ch.NextRunAt.UTC()
		updates["next_run_at"] = next
	}

	res := s.DB.WithContext(ctx).
		Model(&Reminder{}).
		Where("id = ? AND version = ? AND status IN ?", r.ID, r.Version, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}

	r.Status = ch.To
	r.Audit = merged
	r.Version++
	r.UpdatedAt = now
	if ch.NextRunAt != nil {
		r.NextRunAt = next
	}
	return nil
}

// Claim moves a due reminder to PROCESSING. Exactly one of several concurrent
// callers holding the same version succeeds; the others get ErrConflict.
func (s *Store) Claim(ctx context.Context, r *Reminder, now time.Time) error {
	return s.Transition(ctx, r, DispatchEligible, Change{
		To:    StatusProcessing,
		Audit: Audit{AuditProcessingStartedAt: now.UTC()},
	})
}

// Release undoes a claim whose dispatch job never reached the queue, putting
// the reminder back in its pre-claim status.
func (s *Store) Release(ctx context.Context, r *Reminder, to Status, now time.Time) error {
	if !slices.Contains(DispatchEligible, to) {
		return fmt.Errorf("release to %s: not a dispatch-eligible status", to)
	}
	return s.Transition(ctx, r, []Status{StatusProcessing}, Change{
		To:    to,
		Audit: Audit{AuditClaimReleasedAt: now.UTC()},
	})
}

func (s *Store) DeleteBySubject(ctx context.Context, subjectID uint64) (int64, error) {
	res := s.DB.WithContext(ctx).Where("subject_id = ?", subjectID).Delete(&Reminder{})
	return res.RowsAffected, res.Error
}
