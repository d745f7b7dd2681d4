/*
Copyright 2023 The repostats Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package retry wraps fallible actions in exponential backoff with a
// success-threshold reset: a long healthy run earns back its full retry
// budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config bounds a Retrier. All fields must be positive.
type Config struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	SuccessThreshold int
}

// DefaultConfig matches the harvester's flag defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		BackoffFactor:    2.0,
		SuccessThreshold: 5,
	}
}

// ExhaustedError is returned when an action keeps failing through
// MaxAttempts. It wraps the last observed error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type abortError struct{ error }

func (a abortError) Unwrap() error { return a.error }

// Abort marks err terminal: the envelope fails immediately instead of
// retrying.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return abortError{err}
}

// IsAbort reports whether err was marked terminal with Abort.
func IsAbort(err error) bool {
	var a abortError
	return errors.As(err, &a)
}

// Retrier runs actions with exponential backoff. The zero value is not
// usable; construct with New.
type Retrier struct {
	cfg Config

	retries     int
	consecutive int

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// New returns a Retrier for the given config.
func New(cfg Config) *Retrier {
	return &Retrier{cfg: cfg, sleep: time.Sleep}
}

// NoteSuccess records one successful unit of work. Reaching the success
// threshold resets both the consecutive-success counter and the retry
// counter, restoring the full retry budget.
func (r *Retrier) NoteSuccess() {
	r.consecutive++
	if r.consecutive >= r.cfg.SuccessThreshold {
		r.consecutive = 0
		r.retries = 0
	}
}

// Retries returns the retry counter as of the last success-threshold
// reset.
func (r *Retrier) Retries() int { return r.retries }

// Do runs action until it succeeds, is aborted, the context ends, or the
// retry budget is exhausted. Before retry i it sleeps
// min(initial * factor^(i-1), max). onRetry, if non-nil, is invoked before
// each sleep. The action may have side effects; it must consult durable
// state so re-entry skips already-completed work.
func (r *Retrier) Do(ctx context.Context, action func() error, onRetry func(attempt int, err error)) error {
	for {
		err := action()
		if err == nil {
			return nil
		}
		r.consecutive = 0
		if IsAbort(err) {
			return err
		}
		r.retries++
		if r.retries >= r.cfg.MaxAttempts {
			return &ExhaustedError{Attempts: r.retries, Last: err}
		}
		if onRetry != nil {
			onRetry(r.retries, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.sleep(r.backoff(r.retries))
	}
}

// backoff computes the sleep before retry attempt (1-based).
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.BackoffFactor, float64(attempt-1)))
	if delay > r.cfg.MaxDelay || delay < 0 {
		delay = r.cfg.MaxDelay
	}
	return delay
}
