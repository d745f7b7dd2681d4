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

// Package github is the remote client facade. It exposes the typed
// iterators the harvest engine walks (organization repositories, per-repo
// issues and pull requests), the rate-limit probe, the lightweight REST
// repository listing, and GitHub App installation-token minting.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v43/github"
	githubql "github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is api.github.com; GitHub Enterprise hosts differ.
const DefaultBaseURL = "https://api.github.com"

const (
	// maxRateLimitRetries bounds how often a single request is reissued
	// after a server-advertised primary or secondary rate limit.
	maxRateLimitRetries = 4
	// maxRateLimitSleep bounds how long the transport is willing to sleep
	// on a server-advertised limit before giving up on the request.
	maxRateLimitSleep = 5 * time.Minute
)

// ClientOptions configures a Client. Exactly one of Token or AppAuth must
// be supplied.
type ClientOptions struct {
	BaseURL  string
	ProxyURL string
	Token    string
	AppAuth  *AppAuth

	// RequestsPerSecond enables client-side pacing of outgoing requests
	// when positive. Zero disables pacing.
	RequestsPerSecond float64
}

// Client talks to one GitHub host over both GraphQL and REST.
type Client struct {
	gql  *githubql.Client
	rest *gogithub.Client
	log  *logrus.Entry
}

// NewClient builds a fully operational client. When app credentials are
// supplied an installation token is minted first and cached process-wide.
func NewClient(ctx context.Context, o ClientOptions) (*Client, error) {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}

	base := http.DefaultTransport
	if o.ProxyURL != "" {
		proxy, err := url.Parse(o.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", o.ProxyURL, err)
		}
		base = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	token := o.Token
	if o.AppAuth != nil {
		minted, err := o.AppAuth.MintInstallationToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("minting installation token: %w", err)
		}
		token = minted
	}
	if token == "" {
		return nil, fmt.Errorf("no access token and no app credentials supplied")
	}

	log := logrus.WithField("client", "github")

	var limiter *rate.Limiter
	if o.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
	}
	httpClient := &http.Client{
		Transport: &rateLimitTransport{
			base: &oauth2.Transport{
				Base:   base,
				Source: oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
			},
			limiter: limiter,
			log:     log,
			sleep:   time.Sleep,
		},
	}

	rest := gogithub.NewClient(httpClient)
	if o.BaseURL != DefaultBaseURL {
		u, err := url.Parse(strings.TrimSuffix(o.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", o.BaseURL, err)
		}
		rest.BaseURL = u
	}

	var gql *githubql.Client
	if o.BaseURL == DefaultBaseURL {
		gql = githubql.NewClient(httpClient)
	} else {
		gql = githubql.NewEnterpriseClient(graphqlEndpoint(o.BaseURL), httpClient)
	}

	return &Client{gql: gql, rest: rest, log: log}, nil
}

// graphqlEndpoint derives the GraphQL URL from a REST base URL. GitHub
// Enterprise serves REST under /api/v3 and GraphQL under /api/graphql.
func graphqlEndpoint(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(trimmed, "/api/v3") {
		return strings.TrimSuffix(trimmed, "/v3") + "/graphql"
	}
	return trimmed + "/graphql"
}

// rateLimitTransport reissues requests that hit a server-advertised primary
// or secondary rate limit, sleeping the advertised interval in between.
// This is transport-level recovery, distinct from the engine's retry
// envelope.
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	log     *logrus.Entry
	sleep   func(time.Duration)
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		wait, ok := retryAfter(resp)
		if !ok || attempt >= maxRateLimitRetries || wait > maxRateLimitSleep {
			return resp, nil
		}
		resp.Body.Close()
		t.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"sleep":  wait.String(),
		}).Warn("Server-advertised rate limit hit, sleeping before reissuing request.")
		t.sleep(wait)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
	}
}

// retryAfter extracts the server-advertised wait from a limited response.
// Secondary limits carry Retry-After; primary limits zero out
// X-RateLimit-Remaining and carry the reset epoch.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs)*time.Second + time.Second, true
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if epoch, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Reset")); err == nil {
			if wait := time.Until(time.Unix(int64(epoch), 0)) + time.Second; wait > 0 {
				return wait, true
			}
		}
	}
	return 0, false
}
