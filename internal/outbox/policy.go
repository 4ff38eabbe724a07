package outbox

import (
	"time"
	"unicode/utf8"
)

// Policy holds the retry constants. It is copied into components at
// construction and never mutated afterwards.
type Policy struct {
	Backoff       []time.Duration
	MaxAttempts   int
	MaxErrorRunes int
}

// DefaultPolicy is 1m, 5m, 15m, 1h, 6h, 24h with a ceiling of 10 attempts.
func DefaultPolicy() Policy {
	return Policy{
		Backoff: []time.Duration{
			time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			6 * time.Hour,
			24 * time.Hour,
		},
		MaxAttempts:   10,
		MaxErrorRunes: 4000,
	}
}

// withDefaults fills zero fields from DefaultPolicy and detaches the backoff
// slice from the caller's.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if len(p.Backoff) == 0 {
		p.Backoff = def.Backoff
	} else {
		p.Backoff = append([]time.Duration(nil), p.Backoff...)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MaxErrorRunes <= 0 {
		p.MaxErrorRunes = def.MaxErrorRunes
	}
	return p
}

// Delay returns the wait after the given number of failed attempts. The last
// entry repeats once attempts exceed the table.
func (p Policy) Delay(attempts int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Exhausted reports whether a row has reached the attempt ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// sent returns ev in the sent state.
func sent(ev Event) Event {
	ev.Status = StatusSent
	ev.LastError = nil
	ev.NextAttemptAt = nil
	return ev
}

// failed returns ev after one more failed attempt observed at now.
func failed(ev Event, msg string, now time.Time, p Policy) Event {
	ev.Attempts++
	next := now.UTC().Add(p.Delay(ev.Attempts))
	errMsg := truncateRunes(msg, p.MaxErrorRunes)
	ev.Status = StatusFailed
	ev.NextAttemptAt = &next
	ev.LastError = &errMsg
	return ev
}
