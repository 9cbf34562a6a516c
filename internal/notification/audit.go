package notification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Audit keys.
const (
	AuditCreatedAt           = "createdAt"
	AuditUpdatedAt           = "updatedAt"
	AuditRescheduledAt       = "rescheduledAt"
	AuditProcessingStartedAt = "processingStartedAt"
	AuditClaimReleasedAt     = "claimReleasedAt"
	AuditLastSentAt          = "lastSentAt"
	AuditSentCount           = "sentCount"
	AuditLastFailedAt        = "lastFailedAt"
	AuditFailureReason       = "failureReason"
	AuditFailureCount        = "failureCount"
)

// Audit is the append/merge-only event map kept on a reminder. It is stored
// as a JSON object.
type Audit map[string]any

// Merge returns a copy of a with patch applied on top. Neither input is
// modified.
func (a Audit) Merge(patch Audit) Audit {
	out := make(Audit, len(a)+len(patch))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Int reads a counter. Missing or non-numeric values count as zero.
func (a Audit) Int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// String reads a string entry.
func (a Audit) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Time reads a timestamp entry written as time.Time or RFC 3339 text.
func (a Audit) Time(key string) (time.Time, bool) {
	switch v := a[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

func (a Audit) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Audit) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*a = Audit{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("audit: unsupported scan type %T", src)
	}
	m := map[string]any{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	*a = m
	return nil
}
