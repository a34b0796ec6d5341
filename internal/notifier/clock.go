package notifier

import "time"

// Timer is a scheduled one-shot callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time so the reveal schedule can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
