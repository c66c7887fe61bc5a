package core

import "time"

// Clock returns the current time. hass.New defaults it to time.Now when
// no clock is configured; tests inject a fixed or stepped clock so that
// timestamp-sensitive behavior (last_changed/last_updated/last_reported
// ordering, retry backoff) is deterministic.
type Clock func() time.Time

// RealClock reports the current time in UTC.
func RealClock() time.Time { return time.Now().UTC() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
