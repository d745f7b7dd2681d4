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
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphqlEndpoint(t *testing.T) {
	for _, tc := range []struct {
		base string
		want string
	}{
		{base: "https://api.github.com", want: "https://api.github.com/graphql"},
		{base: "https://ghe.example.com/api/v3", want: "https://ghe.example.com/api/graphql"},
		{base: "https://ghe.example.com/api/v3/", want: "https://ghe.example.com/api/graphql"},
		{base: "https://ghe.example.com", want: "https://ghe.example.com/graphql"},
	} {
		assert.Equal(t, tc.want, graphqlEndpoint(tc.base), tc.base)
	}
}

// scriptedTransport returns canned responses in order, repeating the last.
type scriptedTransport struct {
	responses []*http.Response
	requests  int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests++
	i := s.requests - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func limitedResponse(status int, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func newLimitTransport(base http.RoundTripper) (*rateLimitTransport, *[]time.Duration) {
	var slept []time.Duration
	return &rateLimitTransport{
		base:  base,
		log:   logrus.WithField("client", "github"),
		sleep: func(d time.Duration) { slept = append(slept, d) },
	}, &slept
}

func TestRateLimitTransportReissuesAfterSecondaryLimit(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		limitedResponse(http.StatusForbidden, map[string]string{"Retry-After": "1"}),
		limitedResponse(http.StatusOK, nil),
	}}
	rt, slept := newLimitTransport(base)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, base.requests)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
}

func TestRateLimitTransportReissuesAfterPrimaryLimit(t *testing.T) {
	reset := strconv.FormatInt(time.Now().Add(2*time.Second).Unix(), 10)
	base := &scriptedTransport{responses: []*http.Response{
		limitedResponse(http.StatusForbidden, map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     reset,
		}),
		limitedResponse(http.StatusOK, nil),
	}}
	rt, slept := newLimitTransport(base)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, *slept, 1)
	assert.Greater(t, int64((*slept)[0]), int64(0))
}

func TestRateLimitTransportGivesUpEventually(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		limitedResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "1"}),
	}}
	rt, slept := newLimitTransport(base)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	// The limited response is handed back once the reissue budget is spent.
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, maxRateLimitRetries+1, base.requests)
	assert.Len(t, *slept, maxRateLimitRetries)
}

func TestRateLimitTransportRefusesLongSleeps(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		limitedResponse(http.StatusForbidden, map[string]string{
			"Retry-After": strconv.Itoa(int((time.Hour).Seconds())),
		}),
	}}
	rt, slept := newLimitTransport(base)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, base.requests)
	assert.Empty(t, *slept)
}

func TestRateLimitTransportPassesOtherStatusesThrough(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		limitedResponse(http.StatusNotFound, nil),
	}}
	rt, slept := newLimitTransport(base)

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, *slept)
}

func TestRetryAfter(t *testing.T) {
	for _, tc := range []struct {
		name    string
		headers map[string]string
		want    time.Duration
		ok      bool
	}{
		{
			name:    "secondary limit",
			headers: map[string]string{"Retry-After": "3"},
			want:    4 * time.Second,
			ok:      true,
		},
		{
			name:    "no headers",
			headers: nil,
			ok:      false,
		},
		{
			name:    "unparsable retry-after",
			headers: map[string]string{"Retry-After": "soon"},
			ok:      false,
		},
		{
			name:    "remaining quota left",
			headers: map[string]string{"X-RateLimit-Remaining": "12"},
			ok:      false,
		},
		{
			name: "reset in the past",
			headers: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     "1",
			},
			ok: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			wait, ok := retryAfter(limitedResponse(http.StatusForbidden, tc.headers))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, wait)
			}
		})
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), ClientOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}

func TestNewClientRejectsBadProxy(t *testing.T) {
	_, err := NewClient(context.Background(), ClientOptions{
		Token:    "t",
		ProxyURL: "://not-a-url",
	})
	assert.Error(t, err)
}

func TestNewClientWithToken(t *testing.T) {
	c, err := NewClient(context.Background(), ClientOptions{Token: "t"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewClientEnterpriseRESTBase(t *testing.T) {
	c, err := NewClient(context.Background(), ClientOptions{
		Token:   "t",
		BaseURL: "https://ghe.example.com/api/v3",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3/", c.rest.BaseURL.String())
}
