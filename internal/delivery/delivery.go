// Package delivery sends rendered reminders to an outbound sink.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDelivery wraps every non-success outcome reported by a sink.
var ErrDelivery = errors.New("delivery failed")

// Message is the body posted to the sink.
type Message struct {
	Message    string    `json:"message"`
	SubjectID  uint64    `json:"subjectId"`
	ReminderID uint64    `json:"reminderId"`
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`

	// Phone is the recipient for SMS sinks; never serialized.
	Phone string `json:"-"`
}

// Sink delivers one message. Any error is a delivery failure.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// Render builds the greeting for kind addressed to name.
func Render(kind, name string) string {
	if kind == "anniversary" || kind == "birthday" {
		return fmt.Sprintf("Happy Birthday, %s!", name)
	}
	return fmt.Sprintf("Notification for %s", name)
}
