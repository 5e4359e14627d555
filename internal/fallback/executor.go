// Package fallback runs an ordered chain of interchangeable providers until
// one of them succeeds. It knows nothing about what the providers do; callers
// supply the attempt callable and the provider order.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyResult is returned by an attempt callable when the provider answered
// but produced nothing usable. The executor treats it like any other failure
// and moves on to the next provider.
var ErrEmptyResult = errors.New("provider returned empty result")

// ErrBudgetExhausted indicates the shared total budget ran out before the
// chain could be fully traversed.
var ErrBudgetExhausted = errors.New("total budget exhausted")

// Config controls timeout behavior for a chain run.
type Config struct {
	// AttemptTimeout bounds each individual provider attempt.
	AttemptTimeout time.Duration
	// TotalBudget, when non-zero, bounds the whole chain. Once the remaining
	// budget drops below MinRemaining no further providers are attempted.
	TotalBudget time.Duration
	// MinRemaining is the smallest budget slice worth starting an attempt
	// with. Defaults to 1500ms when TotalBudget is set.
	MinRemaining time.Duration
}

const defaultMinRemaining = 1500 * time.Millisecond

// AttemptError records a single provider's failure within a chain.
type AttemptError struct {
	Provider string
	Err      error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e AttemptError) Unwrap() error { return e.Err }

// ChainError aggregates every attempt's failure after the chain is exhausted
// or the budget runs out.
type ChainError struct {
	Attempts []AttemptError
	// Budget is set when the chain stopped early because of budget exhaustion.
	Budget bool
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts)+1)
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	if e.Budget {
		parts = append(parts, ErrBudgetExhausted.Error())
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	for i := range e.Attempts {
		errs = append(errs, e.Attempts[i])
	}
	if e.Budget {
		errs = append(errs, ErrBudgetExhausted)
	}
	return errs
}

// Attempt performs one provider's work. It must honor ctx cancellation and
// return ErrEmptyResult (possibly wrapped) for answered-but-empty responses.
type Attempt[T any] func(ctx context.Context, provider string) (T, error)

type outcome[T any] struct {
	val T
	err error
}

// Run tries providers strictly in order and returns the first success along
// with the name of the provider that produced it. Each attempt is bounded by
// cfg.AttemptTimeout; an attempt that overruns its timeout is cancelled and
// counted as a failure. With a TotalBudget set, attempts additionally race
// against the shared deadline and the chain stops early once the remaining
// budget is below MinRemaining.
func Run[T any](ctx context.Context, cfg Config, providers []string, attempt Attempt[T]) (T, string, error) {
	var zero T
	if len(providers) == 0 {
		return zero, "", &ChainError{}
	}

	minRemaining := cfg.MinRemaining
	if minRemaining <= 0 {
		minRemaining = defaultMinRemaining
	}
	var deadline time.Time
	if cfg.TotalBudget > 0 {
		deadline = time.Now().Add(cfg.TotalBudget)
	}

	chainErr := &ChainError{}
	for _, name := range providers {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		timeout := cfg.AttemptTimeout
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining < minRemaining {
				chainErr.Budget = true
				break
			}
			if timeout <= 0 || remaining < timeout {
				timeout = remaining
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		ch := make(chan outcome[T], 1)
		go func(name string) {
			val, err := attempt(attemptCtx, name)
			ch <- outcome[T]{val: val, err: err}
		}(name)

		var res outcome[T]
		select {
		case res = <-ch:
		case <-attemptCtx.Done():
			res = outcome[T]{err: attemptCtx.Err()}
		}
		cancel()

		if res.err == nil {
			return res.val, name, nil
		}
		// Parent cancellation aborts the whole chain, not just this attempt.
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		chainErr.Attempts = append(chainErr.Attempts, AttemptError{Provider: name, Err: res.err})
	}

	return zero, "", chainErr
}
