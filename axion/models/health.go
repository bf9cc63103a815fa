package models

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBreakerOpen is returned while the circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

const maxErrorMessages = 10

// ModelHealth tracks the health status of a model
type ModelHealth struct {
	IsHealthy      bool
	SuccessRate    float64
	AverageLatency time.Duration
	TotalCalls     int64
	SuccessCalls   int64
	FailureCalls   int64
	LastUsed       time.Time
	LastError      error
	ErrorMessages  []string
	BreakerOpen    bool
}

// healthTracker records call outcomes and trips a breaker after threshold
// consecutive failures. A threshold of zero disables the breaker.
type healthTracker struct {
	mu     sync.Mutex
	health ModelHealth

	threshold       int
	cooldown        time.Duration
	failureCount    int
	lastFailureTime time.Time

	now    func() time.Time
	logger zerolog.Logger
}

func newHealthTracker(threshold int, cooldown time.Duration, now func() time.Time, logger zerolog.Logger) *healthTracker {
	return &healthTracker{
		health: ModelHealth{
			IsHealthy:     true,
			SuccessRate:   1.0,
			ErrorMessages: make([]string, 0),
		},
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		logger:    logger,
	}
}

// allow reports whether a call may proceed.
func (h *healthTracker) allow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.threshold <= 0 || h.failureCount < h.threshold {
		return true
	}
	if h.now().Sub(h.lastFailureTime) > h.cooldown {
		h.failureCount = 0
		h.logger.Info().Msg("Circuit breaker reset after cooldown")
		return true
	}
	return false
}

func (h *healthTracker) recordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.SuccessCalls++
	h.health.LastUsed = h.now()

	if h.health.AverageLatency == 0 {
		h.health.AverageLatency = duration
	} else {
		alpha := 0.1
		h.health.AverageLatency = time.Duration(float64(h.health.AverageLatency)*(1-alpha) + float64(duration)*alpha)
	}

	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)
	h.health.IsHealthy = true
	h.failureCount = 0
}

func (h *healthTracker) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.FailureCalls++
	h.health.LastUsed = h.now()
	h.health.LastError = err
	h.health.IsHealthy = false

	if len(h.health.ErrorMessages) >= maxErrorMessages {
		h.health.ErrorMessages = h.health.ErrorMessages[1:]
	}
	h.health.ErrorMessages = append(h.health.ErrorMessages, err.Error())
	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)

	h.failureCount++
	h.lastFailureTime = h.now()

	h.logger.Warn().Err(err).Int("failure_count", h.failureCount).Msg("Operation failed")
}

func (h *healthTracker) snapshot() ModelHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	health := h.health
	health.ErrorMessages = append([]string(nil), h.health.ErrorMessages...)
	health.BreakerOpen = h.threshold > 0 && h.failureCount >= h.threshold &&
		h.now().Sub(h.lastFailureTime) <= h.cooldown
	return health
}
