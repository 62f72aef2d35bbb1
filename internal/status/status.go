// Package status holds the transient user-facing message shown after save,
// load and error outcomes. A message carries its own expiry and is cleared by
// the owning loop's per-tick check rather than by a timer.
package status

import "time"

// DefaultDuration is how long a message stays visible.
const DefaultDuration = 3 * time.Second

// Board is a single-slot message with an expiry. The zero value is usable
// and shows messages for DefaultDuration.
type Board struct {
	Duration time.Duration

	message string
	expires time.Time
}

// Set replaces the current message.
func (b *Board) Set(now time.Time, message string) {
	d := b.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	b.message = message
	b.expires = now.Add(d)
}

// Tick clears the message once it has expired and returns what remains.
func (b *Board) Tick(now time.Time) string {
	if b.message != "" && !now.Before(b.expires) {
		b.message = ""
	}
	return b.message
}

// Message returns the current message without checking expiry.
func (b *Board) Message() string { return b.message }
