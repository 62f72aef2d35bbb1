package placement

import (
	"fmt"
	"log/slog"
	"time"
)

// Policy selects how many references a session may place against.
type Policy string

const (
	// PolicyPerReference gives every reference its own group of records.
	PolicyPerReference Policy = "per-reference"
	// PolicySingleLock locks onto the first image reference that tracks and
	// ignores all other images for the rest of the session. Planes do not take
	// the lock, since they are usually detected before any marker, and are
	// handled as under PolicyPerReference.
	PolicySingleLock Policy = "single-lock"
)

// ParsePolicy accepts the configuration spelling of a policy. Empty means
// PolicyPerReference.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyPerReference:
		return PolicyPerReference, nil
	case PolicySingleLock:
		return PolicySingleLock, nil
	}
	return "", fmt.Errorf("unknown placement policy %q", s)
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now, used for status expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithPolicy sets the reference policy.
func WithPolicy(p Policy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithStatusDuration sets how long status messages stay visible.
func WithStatusDuration(d time.Duration) Option {
	return func(c *Controller) {
		c.board.Duration = d
	}
}

// WithSaveFailures makes Tick surface errors from a background writer.
func WithSaveFailures(ch <-chan error) Option {
	return func(c *Controller) {
		c.failures = ch
	}
}
