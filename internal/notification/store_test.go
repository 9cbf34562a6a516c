package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remind/internal/db/dbtest"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbtest.Open(t, &Reminder{})}
}

func seedReminder(t *testing.T, s *Store, subjectID uint64, status Status, next time.Time) *Reminder {
	t.Helper()
	r := &Reminder{
		SubjectID: subjectID,
		Kind:      KindAnniversary,
		Status:    status,
		NextRunAt: next,
		Audit:     Audit{AuditCreatedAt: time.Now().UTC()},
	}
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return r
}

func TestFindDue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	due := seedReminder(t, s, 1, StatusPending, now.Add(-time.Hour))
	rearmed := seedReminder(t, s, 2, StatusScheduled, now.Add(-time.Minute))
	seedReminder(t, s, 3, StatusPending, now.Add(time.Hour))
	seedReminder(t, s, 4, StatusProcessing, now.Add(-time.Hour))
	seedReminder(t, s, 5, StatusFailed, now.Add(-time.Hour))

	rows, err := s.FindDue(ctx, now)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	got := map[uint64]bool{}
	for _, r := range rows {
		got[r.ID] = true
	}
	if len(rows) != 2 || !got[due.ID] || !got[rearmed.ID] {
		t.Fatalf("FindDue = %v, want ids %d and %d", rows, due.ID, rearmed.ID)
	}
}

func TestCreateRejectsSecondReminderPerSubject(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	seedReminder(t, s, 7, StatusPending, time.Now())
	err := s.Create(context.Background(), &Reminder{SubjectID: 7, Kind: KindAnniversary, Status: StatusPending, NextRunAt: time.Now()})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Create duplicate = %v, want ErrExists", err)
	}
}

func TestClaimOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReminder(t, s, 1, StatusPending, time.Now().Add(-time.Minute))

	now := time.Now().UTC()
	if err := s.Claim(ctx, r, now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if r.Status != StatusProcessing || r.Version != 1 {
		t.Fatalf("after claim: status=%s version=%d", r.Status, r.Version)
	}

	stored, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusProcessing {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if _, ok := stored.Audit.Time(AuditProcessingStartedAt); !ok {
		t.Fatalf("processingStartedAt missing: %v", stored.Audit)
	}
	if _, ok := stored.Audit.Time(AuditCreatedAt); !ok {
		t.Fatalf("createdAt lost on merge: %v", stored.Audit)
	}

	if err := s.Claim(ctx, stored, now); !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim = %v, want ErrConflict", err)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	seeded := seedReminder(t, s, 1, StatusPending, time.Now().Add(-time.Minute))

	const contenders = 8
	copies := make([]*Reminder, contenders)
	for i := range copies {
		r, err := s.Get(ctx, seeded.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		copies[i] = r
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, r := range copies {
		wg.Add(1)
		go func(r *Reminder) {
			defer wg.Done()
			err := s.Claim(ctx, r, time.Now())
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrConflict):
			default:
				t.Errorf("Claim: %v", err)
			}
		}(r)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestTransitionMergesAudit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReminder(t, s, 1, StatusPending, time.Now().Add(-time.Minute))

	if err := s.Claim(ctx, r, time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	err := s.Transition(ctx, r, []Status{StatusProcessing}, Change{
		To:        StatusScheduled,
		NextRunAt: &next,
		Audit:     Audit{AuditSentCount: r.Audit.Int(AuditSentCount) + 1},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	stored, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusScheduled || !stored.NextRunAt.Equal(next) {
		t.Fatalf("stored = %s %s", stored.Status, stored.NextRunAt)
	}
	for _, k := range []string{AuditCreatedAt, AuditProcessingStartedAt, AuditSentCount} {
		if _, ok := stored.Audit[k]; !ok {
			t.Fatalf("audit key %q missing: %v", k, stored.Audit)
		}
	}
	if stored.Audit.Int(AuditSentCount) != 1 {
		t.Fatalf("sentCount = %v", stored.Audit[AuditSentCount])
	}
}

func TestTransitionRejectsStaleVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReminder(t, s, 1, StatusPending, time.Now())

	stale := *r
	if err := s.Claim(ctx, r, time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Same status set, old version.
	stale.Status = StatusPending
	err := s.Transition(ctx, &stale, []Status{StatusPending}, Change{To: StatusFailed})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Transition = %v, want ErrConflict", err)
	}
}

func TestServiceReschedule(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	svc := NewService(s, zerolog.Nop())
	ctx := context.Background()

	first := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
	r, err := svc.CreateSchedule(ctx, 42, first)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	// A failed reminder comes back as PENDING only through reschedule.
	if err := s.Transition(ctx, r, []Status{StatusPending}, Change{To: StatusFailed}); err != nil {
		t.Fatalf("force failed: %v", err)
	}

	second := time.Date(2030, 9, 9, 0, 0, 0, 0, time.UTC)
	r, err = svc.RescheduleSchedule(ctx, 42, second)
	if err != nil {
		t.Fatalf("RescheduleSchedule: %v", err)
	}
	if r.Status != StatusPending || !r.NextRunAt.Equal(second) {
		t.Fatalf("rescheduled = %s %s", r.Status, r.NextRunAt)
	}
	if _, ok := r.Audit.Time(AuditCreatedAt); !ok {
		t.Fatalf("createdAt lost: %v", r.Audit)
	}

	if err := s.Claim(ctx, r, time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := svc.RescheduleSchedule(ctx, 42, first); !errors.Is(err, ErrConflict) {
		t.Fatalf("reschedule while processing = %v, want ErrConflict", err)
	}
}

func TestServiceRescheduleCreatesMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	svc := NewService(s, zerolog.Nop())

	due := time.Date(2031, 1, 2, 0, 0, 0, 0, time.UTC)
	r, err := svc.RescheduleSchedule(context.Background(), 9, due)
	if err != nil {
		t.Fatalf("RescheduleSchedule: %v", err)
	}
	if r.SubjectID != 9 || r.Status != StatusPending {
		t.Fatalf("created = %+v", r)
	}
}

func TestServiceCancel(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	svc := NewService(s, zerolog.Nop())
	ctx := context.Background()

	r, err := svc.CreateSchedule(ctx, 5, time.Now())
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := svc.CancelSchedule(ctx, 5); err != nil {
		t.Fatalf("CancelSchedule: %v", err)
	}
	if _, err := s.Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after cancel = %v, want ErrNotFound", err)
	}
}
