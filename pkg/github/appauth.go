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
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go/v4"
	"github.com/sirupsen/logrus"
)

// TokenEnvVar is where a freshly minted installation token is cached so
// spawned child processes (a delegating row sink, for instance) can reuse
// it without minting their own.
const TokenEnvVar = "GITHUB_TOKEN"

var cacheTokenOnce sync.Once

// AppAuth mints installation tokens for a GitHub App installation.
type AppAuth struct {
	AppID          string
	InstallationID int64
	PrivateKey     *rsa.PrivateKey
	BaseURL        string

	// Client defaults to http.DefaultClient.
	Client *http.Client
	now    func() time.Time
}

// MintInstallationToken exchanges a short-lived app JWT for an installation
// access token. The token is cached into the process environment once.
func (a *AppAuth) MintInstallationToken(ctx context.Context) (string, error) {
	signed, err := a.appJWT()
	if err != nil {
		return "", err
	}

	base := a.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", base, a.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("creating installation token: status %d, body: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("decoding installation token response: %w", err)
	}

	cacheTokenOnce.Do(func() {
		if err := os.Setenv(TokenEnvVar, tokenResp.Token); err != nil {
			logrus.WithError(err).Warn("Failed to cache installation token in environment.")
		}
	})
	logrus.WithField("expires_at", tokenResp.ExpiresAt).Debug("Minted installation token.")
	return tokenResp.Token, nil
}

// appJWT signs the RS256 app JWT. Issued-at is backdated a minute to
// tolerate clock drift between us and GitHub.
func (a *AppAuth) appJWT() (string, error) {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	claims := &jwt.StandardClaims{
		IssuedAt:  jwt.At(now().Add(-time.Minute)),
		ExpiresAt: jwt.At(now().Add(9 * time.Minute)),
		Issuer:    a.AppID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}
	return signed, nil
}
