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

// Package ratelimit decides, based on periodic quota probes, whether the
// harvest may continue, must pause, or has to stop.
package ratelimit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/org-tools/repostats/pkg/github"
)

// Prober is the quota probe the governor consults.
type Prober interface {
	RateLimits(ctx context.Context) (*github.RateLimitStatus, error)
}

// Directive tells the engine what to do next.
type Directive int

const (
	// Continue means quota remains; keep harvesting.
	Continue Directive = iota
	// Pause means quota is exhausted; the caller should surface an error
	// so the retry envelope sleeps it off.
	Pause
	// Fatal means the probe itself keeps failing; stop the run.
	Fatal
)

// DefaultPauseCap is how many consecutive probe failures are tolerated
// before the governor gives up.
const DefaultPauseCap = 5

// Governor probes remaining quota every few rows and converts the result
// into a directive.
type Governor struct {
	prober   Prober
	pauseCap int
	failures int
	log      *logrus.Entry
}

// NewGovernor returns a governor over the given prober. A pauseCap of zero
// falls back to DefaultPauseCap.
func NewGovernor(prober Prober, pauseCap int) *Governor {
	if pauseCap <= 0 {
		pauseCap = DefaultPauseCap
	}
	return &Governor{
		prober:   prober,
		pauseCap: pauseCap,
		log:      logrus.WithField("component", "rate-limit-governor"),
	}
}

// Check probes the remote quota. Exhausted quota yields Pause; repeated
// probe failures beyond the cap yield Fatal.
func (g *Governor) Check(ctx context.Context) Directive {
	status, err := g.prober.RateLimits(ctx)
	if err != nil {
		g.failures++
		if g.failures > g.pauseCap {
			g.log.WithError(err).Error("Rate limit probe keeps failing, giving up.")
			return Fatal
		}
		g.log.WithError(err).WithField("failures", g.failures).Warn("Rate limit probe failed, treating as exhausted.")
		return Pause
	}
	g.failures = 0

	if status.GraphQLRemaining == 0 || status.RESTRemaining == 0 {
		g.log.WithFields(logrus.Fields{
			"graphql_remaining": status.GraphQLRemaining,
			"rest_remaining":    status.RESTRemaining,
		}).Warn("API rate limit exhausted, pausing harvest.")
		return Pause
	}

	g.log.WithFields(logrus.Fields{
		"graphql_remaining": status.GraphQLRemaining,
		"rest_remaining":    status.RESTRemaining,
	}).Info(status.Message)
	return Continue
}
