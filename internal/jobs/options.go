package jobs

import "time"

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	maxBackoff = 10 * time.Minute
)

type Backoff struct {
	Type  string
	Delay time.Duration
}

// Next returns the wait before retrying after the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Options are set once when the queue is registered and copied onto every
// job it enqueues.
type Options struct {
	// RemoveOnComplete / RemoveOnFail keep at most that many finished jobs;
	// a negative value keeps all of them.
	RemoveOnComplete int
	RemoveOnFail     int
	Attempts         int
	Backoff          Backoff
	// StaleLock is how long a RUNNING job may stay locked before it is
	// assumed orphaned by a dead worker and handed out again.
	StaleLock time.Duration
}

func DefaultOptions() Options {
	return Options{
		RemoveOnComplete: 100,
		RemoveOnFail:     50,
		Attempts:         3,
		Backoff:          Backoff{Type: BackoffFixed, Delay: 5 * time.Second},
		StaleLock:        5 * time.Minute,
	}
}
