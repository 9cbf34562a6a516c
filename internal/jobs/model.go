package jobs

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	// StatusFailed is the dead-letter state: attempts are exhausted.
	StatusFailed Status = "FAILED"
)

type Job struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"type:text;not null"` // send-notification

	Payload RawJSON `gorm:"type:text;not null"`

	RunAt  time.Time `gorm:"index;not null"`
	Status Status    `gorm:"type:text;index;not null;default:'PENDING'"`

	// Attempts counts claims, so it is the current attempt number while the
	// job runs.
	Attempts    int    `gorm:"not null;default:0"`
	MaxAttempts int    `gorm:"not null;default:3"`
	BackoffType string `gorm:"type:text;not null;default:'fixed'"`
	BackoffMS   int64  `gorm:"column:backoff_ms;not null;default:0"`

	LockedBy  *string `gorm:"type:text"`
	LockedAt  *time.Time
	LastError *string `gorm:"type:text"`

	FinishedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "dispatch_jobs" }

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("job %d: bad payload: %w", j.ID, err)
	}
	return nil
}

// RawJSON is a JSON document stored in a text column.
type RawJSON []byte

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	return string(r), nil
}

func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawJSON(v)
	default:
		return fmt.Errorf("raw json: unsupported scan type %T", src)
	}
	return nil
}
