package utils

import (
	"context"
	"math/rand"
	"time"

	"github.com/vitwit/upiswitch/logger"
)

// Retrier re-runs an action according to a HandlingStrategy.
type Retrier[T any] struct {
	strategy HandlingStrategy
	log      logger.Logger
}

func NewRetrier[T any](strategy HandlingStrategy, log logger.Logger) *Retrier[T] {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Retrier[T]{strategy: strategy, log: log}
}

// NewBoundedRetrier retries at most maxRetries times with exponential backoff.
func NewBoundedRetrier[T any](maxRetries int, log logger.Logger) *Retrier[T] {
	if maxRetries <= 0 {
		return NewRetrier[T](&NopRetryStrategy{}, log)
	}
	return NewRetrier[T](NewExponentialBackoffStrategy(maxRetries, 50*time.Millisecond, 0.1, 2*time.Second), log)
}

// DoWithReturn runs action until it succeeds, the strategy gives up or ctx is done.
func (r *Retrier[T]) DoWithReturn(ctx context.Context, action func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := action()
		if err == nil {
			r.strategy.HandleSuccess()
			return result, nil
		}

		decision := r.strategy.HandleError(err)
		if decision.ReturnError {
			return zero, err
		}

		r.log.Warn("retrying after error", map[string]any{
			"attempt": attempt,
			"wait":    decision.TimeToWait.String(),
			"error":   err.Error(),
		})

		timer := time.NewTimer(decision.TimeToWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

type Decision struct {
	TimeToWait  time.Duration
	ReturnError bool
}

type HandlingStrategy interface {
	HandleError(err error) Decision
	HandleSuccess()
}

// ExponentialBackoffStrategy doubles the delay after each failure up to
// maxDelay. A maximumRetries of -1 retries forever. Not safe for concurrent use.
type ExponentialBackoffStrategy struct {
	maximumRetries   int
	initialDelay     time.Duration
	maxDelay         time.Duration
	jitterPercentage float64

	currentRetryNumber int
	nextDelay          time.Duration
	rnd                *rand.Rand
}

func NewExponentialBackoffStrategy(maximumRetries int, initialDelay time.Duration, jitterPercentage float64, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maximumRetries:   maximumRetries,
		initialDelay:     initialDelay,
		maxDelay:         maxDelay,
		jitterPercentage: jitterPercentage,
		nextDelay:        initialDelay,
		rnd:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *ExponentialBackoffStrategy) HandleError(err error) Decision {
	if s.maximumRetries != -1 && s.currentRetryNumber >= s.maximumRetries {
		return Decision{ReturnError: true}
	}
	s.currentRetryNumber++

	current := s.nextDelay
	next := s.nextDelay * 2
	if next > s.maxDelay {
		next = s.maxDelay
	}
	s.nextDelay = s.withJitter(next)
	return Decision{TimeToWait: current}
}

func (s *ExponentialBackoffStrategy) HandleSuccess() {
	s.currentRetryNumber = 0
	s.nextDelay = s.initialDelay
}

func (s *ExponentialBackoffStrategy) withJitter(d time.Duration) time.Duration {
	maxJitter := int64(float64(d.Milliseconds()) * s.jitterPercentage)
	if maxJitter <= 0 {
		return d
	}
	jitter := s.rnd.Int63n(maxJitter) - maxJitter/2
	return d + time.Duration(jitter)*time.Millisecond
}

// NopRetryStrategy never retries.
type NopRetryStrategy struct{}

func (NopRetryStrategy) HandleError(error) Decision {
	return Decision{ReturnError: true}
}

func (NopRetryStrategy) HandleSuccess() {}
