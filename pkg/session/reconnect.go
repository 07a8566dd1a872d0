package session

import (
	"math"
	"math/rand"
	"time"

	"github.com/arzzra/meetkit/pkg/status"
)

// RandomSource provides jitter values. Inject a deterministic source in
// tests.
type RandomSource interface {
	// Float64 returns a random value in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 { return rand.Float64() }

// ReconnectConfig parameterizes the retry budget and the full-jitter
// backoff curve.
type ReconnectConfig struct {
	// MaxRetries caps the attempt count. Zero means no count cap.
	MaxRetries int

	// MaxElapsed caps the wall-clock time spent reconnecting since the
	// first failure after a connected period. Zero means no time cap.
	MaxElapsed time.Duration

	// Base and Ceiling shape the backoff: the delay for attempt n is
	// drawn uniformly from [0, min(Ceiling, Base*2^n)].
	Base    time.Duration
	Ceiling time.Duration
}

// DefaultReconnectConfig mirrors the production defaults: retry for up
// to two minutes with a 1s base and 10s ceiling.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxElapsed: 2 * time.Minute,
		Base:       time.Second,
		Ceiling:    10 * time.Second,
	}
}

// Reconnector decides whether a failed attempt is retried and after what
// delay. It is not a Task: the controller consumes pipeline outcomes and
// asks it for the next move.
type Reconnector struct {
	cfg    ReconnectConfig
	random RandomSource

	attempt     int
	windowStart time.Time
	now         func() time.Time
}

// NewReconnector creates a reconnector. A nil random source uses
// math/rand.
func NewReconnector(cfg ReconnectConfig, random RandomSource) *Reconnector {
	if random == nil {
		random = defaultRandomSource{}
	}
	return &Reconnector{cfg: cfg, random: random, now: time.Now}
}

// Reset clears the attempt counter and the elapsed window. Called when
// the session reaches Connected.
func (r *Reconnector) Reset() {
	r.attempt = 0
	r.windowStart = time.Time{}
}

// UpperBound returns the backoff ceiling for a given attempt number:
// min(Ceiling, Base * 2^attempt).
func (r *Reconnector) UpperBound(attempt int) time.Duration {
	upper := float64(r.cfg.Base) * math.Pow(2, float64(attempt))
	if ceiling := float64(r.cfg.Ceiling); r.cfg.Ceiling > 0 && upper > ceiling {
		upper = ceiling
	}
	return time.Duration(upper)
}

// ShouldRetry reports whether the session should try again after st, and
// the full-jitter delay to wait first. Terminal statuses and an
// exhausted budget both return false.
func (r *Reconnector) ShouldRetry(st status.SessionStatus) (time.Duration, bool) {
	if st.IsTerminal() {
		return 0, false
	}
	if r.cfg.MaxRetries > 0 && r.attempt >= r.cfg.MaxRetries {
		return 0, false
	}
	if r.cfg.MaxElapsed > 0 {
		if r.windowStart.IsZero() {
			r.windowStart = r.now()
		} else if r.now().Sub(r.windowStart) > r.cfg.MaxElapsed {
			return 0, false
		}
	}
	delay := time.Duration(r.random.Float64() * float64(r.UpperBound(r.attempt)))
	r.attempt++
	return delay, true
}

// Attempt returns the number of retries consumed since the last Reset.
func (r *Reconnector) Attempt() int { return r.attempt }
