package notification

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusScheduled  Status = "SCHEDULED"
	StatusFailed     Status = "FAILED"
)

// Kind is the event type a reminder fires for.
type Kind string

const KindAnniversary Kind = "anniversary"

// DispatchEligible are the statuses the due scan picks up. SCHEDULED is a
// rearmed cycle and is dispatched the same way as PENDING.
var DispatchEligible = []Status{StatusPending, StatusScheduled}

// JobSendNotification is the queue job name for one reminder delivery.
const JobSendNotification = "send-notification"

// Reminder is one subject's recurring notification. At most one row exists per
// (subject, kind). Every write goes through Store.Transition so Version always
// moves forward.
type Reminder struct {
	ID        uint64    `gorm:"primaryKey"`
	SubjectID uint64    `gorm:"not null;uniqueIndex:uq_notifications_subject_kind"`
	Kind      Kind      `gorm:"type:text;not null;uniqueIndex:uq_notifications_subject_kind"`
	Status    Status    `gorm:"type:text;index;not null;default:'PENDING'"`
	NextRunAt time.Time `gorm:"index;not null"`
	Audit     Audit     `gorm:"type:text;not null"`
	Version   uint64    `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Reminder) TableName() string { return "notifications" }

// Dispatch is the queue payload for JobSendNotification.
type Dispatch struct {
	ReminderID uint64 `json:"reminderId"`
	SubjectID  uint64 `json:"subjectId"`
	Kind       Kind   `json:"kind"`
}
