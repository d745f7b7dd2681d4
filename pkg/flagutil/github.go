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

// Package flagutil holds the option bags shared by the repostats
// subcommands. Every flag's default is seeded from the matching
// environment variable (org-name from ORG_NAME and so on) so the tool can
// run fully configured from the environment.
package flagutil

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	jwt "github.com/dgrijalva/jwt-go/v4"
	"github.com/spf13/pflag"

	"github.com/org-tools/repostats/pkg/github"
)

// GitHubOptions is the auth/endpoint option set every subcommand carries.
type GitHubOptions struct {
	OrgName           string
	AccessToken       string
	AccessTokenFile   string
	AppID             string
	AppPrivateKey     string
	AppPrivateKeyFile string
	AppInstallationID int64
	BaseURL           string
	ProxyURL          string
	Verbose           bool
	PageSize          int
	LogDir            string
	RequestsPerSecond float64
}

// AddFlags injects the shared GitHub flags into the given flag set.
func (o *GitHubOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.OrgName, "org-name", EnvDefault("ORG_NAME", ""), "Organization to harvest (required).")
	fs.StringVar(&o.AccessToken, "access-token", EnvDefault("ACCESS_TOKEN", ""), "Personal access token. Mutually exclusive with the app credentials.")
	fs.StringVar(&o.AccessTokenFile, "access-token-file", EnvDefault("ACCESS_TOKEN_FILE", ""), "File containing the access token.")
	fs.StringVar(&o.AppID, "app-id", EnvDefault("APP_ID", ""), "GitHub App ID. Requires private key and installation ID.")
	fs.StringVar(&o.AppPrivateKey, "private-key", EnvDefault("PRIVATE_KEY", ""), "PEM-encoded GitHub App private key.")
	fs.StringVar(&o.AppPrivateKeyFile, "private-key-file", EnvDefault("PRIVATE_KEY_FILE", ""), "File containing the GitHub App private key.")
	fs.Int64Var(&o.AppInstallationID, "app-installation-id", EnvInt64Default("APP_INSTALLATION_ID", 0), "GitHub App installation ID.")
	fs.StringVar(&o.BaseURL, "base-url", EnvDefault("BASE_URL", github.DefaultBaseURL), "API base URL (differs for GitHub Enterprise).")
	fs.StringVar(&o.ProxyURL, "proxy-url", EnvDefault("PROXY_URL", ""), "HTTP proxy for all API traffic.")
	fs.BoolVar(&o.Verbose, "verbose", EnvBoolDefault("VERBOSE", false), "Enable debug logging.")
	fs.IntVar(&o.PageSize, "page-size", EnvIntDefault("PAGE_SIZE", 10), "Repositories fetched per page of the organization walk.")
	fs.StringVar(&o.LogDir, "log-dir", EnvDefault("LOG_DIR", ""), "Directory for the daily log file. Empty logs to the console only.")
	fs.Float64Var(&o.RequestsPerSecond, "requests-per-second", EnvFloatDefault("REQUESTS_PER_SECOND", 0), "Client-side request pacing. Zero disables pacing.")
}

// Validate checks the option combination before any remote call is made.
func (o *GitHubOptions) Validate() error {
	if o.OrgName == "" {
		return errors.New("--org-name is required")
	}
	hasToken := o.AccessToken != "" || o.AccessTokenFile != ""
	hasApp := o.AppID != "" || o.AppPrivateKey != "" || o.AppPrivateKeyFile != "" || o.AppInstallationID != 0
	if hasToken && hasApp {
		return errors.New("--access-token is mutually exclusive with the app credentials")
	}
	if !hasToken && !hasApp {
		return errors.New("either --access-token or the app credentials must be supplied")
	}
	if hasApp {
		if o.AppID == "" || o.AppInstallationID == 0 {
			return errors.New("--app-id and --app-installation-id must be set together")
		}
		if (o.AppPrivateKey == "") == (o.AppPrivateKeyFile == "") {
			return errors.New("exactly one of --private-key and --private-key-file must be set")
		}
	}
	if _, err := url.ParseRequestURI(o.BaseURL); err != nil {
		return fmt.Errorf("invalid --base-url %q: %w", o.BaseURL, err)
	}
	if o.ProxyURL != "" {
		if _, err := url.ParseRequestURI(o.ProxyURL); err != nil {
			return fmt.Errorf("invalid --proxy-url %q: %w", o.ProxyURL, err)
		}
	}
	if o.PageSize <= 0 {
		return errors.New("--page-size must be positive")
	}
	return nil
}

// Client builds the remote client facade from the validated options.
func (o *GitHubOptions) Client(ctx context.Context) (*github.Client, error) {
	co := github.ClientOptions{
		BaseURL:           o.BaseURL,
		ProxyURL:          o.ProxyURL,
		RequestsPerSecond: o.RequestsPerSecond,
	}

	switch {
	case o.AccessToken != "":
		co.Token = o.AccessToken
	case o.AccessTokenFile != "":
		data, err := os.ReadFile(o.AccessTokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading access token file: %w", err)
		}
		co.Token = strings.TrimSpace(string(data))
	default:
		pem := []byte(o.AppPrivateKey)
		if o.AppPrivateKeyFile != "" {
			data, err := os.ReadFile(o.AppPrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading private key file: %w", err)
			}
			pem = data
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing app private key: %w", err)
		}
		co.AppAuth = &github.AppAuth{
			AppID:          o.AppID,
			InstallationID: o.AppInstallationID,
			PrivateKey:     key,
			BaseURL:        o.BaseURL,
		}
	}

	return github.NewClient(ctx, co)
}

// EnvDefault returns the environment value for key, or def when unset.
func EnvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// EnvIntDefault returns the integer environment value for key, or def
// when unset or unparsable.
func EnvIntDefault(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvInt64Default is EnvIntDefault for 64-bit values.
func EnvInt64Default(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// EnvBoolDefault returns the boolean environment value for key, or def
// when unset or unparsable.
func EnvBoolDefault(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// EnvFloatDefault returns the float environment value for key, or def
// when unset or unparsable.
func EnvFloatDefault(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
