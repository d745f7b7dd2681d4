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

package github

import (
	"context"
	"fmt"
	"net/http"

	githubql "github.com/shurcooL/githubv4"
)

type rateLimitQuery struct {
	// Null when the host has rate limiting disabled.
	RateLimit *struct {
		Limit     githubql.Int
		Remaining githubql.Int
	}
}

// RateLimits probes remaining GraphQL points and REST calls with a single
// request per surface. Hosts with rate limiting disabled report the
// sentinel quantities and an informational message.
func (c *Client) RateLimits(ctx context.Context) (*RateLimitStatus, error) {
	var q rateLimitQuery
	if err := c.gql.Query(ctx, &q, nil); err != nil {
		return nil, fmt.Errorf("probing GraphQL rate limit: %w", err)
	}

	status := &RateLimitStatus{Severity: SeverityInfo}
	if q.RateLimit == nil {
		status.GraphQLRemaining = RateLimitDisabledSentinel
	} else {
		status.GraphQLRemaining = int(q.RateLimit.Remaining)
	}

	limits, resp, err := c.rest.RateLimits(ctx)
	switch {
	case err != nil && resp != nil && resp.StatusCode == http.StatusNotFound:
		// GHE with rate limiting off returns 404 for /rate_limit.
		status.RESTRemaining = RateLimitDisabledSentinel
	case err != nil:
		return nil, fmt.Errorf("probing REST rate limit: %w", err)
	case limits.Core != nil:
		status.RESTRemaining = limits.Core.Remaining
	}

	if q.RateLimit == nil && status.RESTRemaining == RateLimitDisabledSentinel {
		status.Message = "rate limiting is disabled on this host"
		return status, nil
	}
	if status.GraphQLRemaining == 0 || status.RESTRemaining == 0 {
		status.Severity = SeverityWarning
		status.Message = fmt.Sprintf("rate limit exhausted: graphql remaining %d, rest remaining %d", status.GraphQLRemaining, status.RESTRemaining)
		return status, nil
	}
	status.Message = fmt.Sprintf("graphql remaining %d, rest remaining %d", status.GraphQLRemaining, status.RESTRemaining)
	return status, nil
}
