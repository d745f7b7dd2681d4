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

// Package repostats implements the repo-stats subcommand: the full
// organization harvest with durable, resumable state.
package repostats

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/org-tools/repostats/pkg/flagutil"
	"github.com/org-tools/repostats/pkg/harvest"
	"github.com/org-tools/repostats/pkg/logrusutil"
	"github.com/org-tools/repostats/pkg/ratelimit"
	"github.com/org-tools/repostats/pkg/retry"
	"github.com/org-tools/repostats/pkg/row"
	"github.com/org-tools/repostats/pkg/state"
)

type options struct {
	github flagutil.GitHubOptions

	extraPageSize          int
	rateLimitCheckInterval int
	resume                 bool
	stateFile              string

	retryMaxAttempts      int
	retryInitialDelayMS   int
	retryMaxDelayMS       int
	retryBackoffFactor    float64
	retrySuccessThreshold int
}

// MakeCommand returns the `repo-stats` command.
func MakeCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "repo-stats",
		Short: "Harvest per-repository statistics for an organization into a CSV report.",
		Long: `Walk every repository of an organization in name order, aggregate issue and
pull request activity for each one, and append a row per repository to a
timestamped CSV file. Progress is checkpointed to a state file after every
row, so an interrupted run restarted with --resume-from-last-save picks up
where it left off without duplicating rows.`,
		Run: func(cmd *cobra.Command, args []string) {
			run(o)
		},
	}
	o.github.AddFlags(cmd.Flags())
	d := retry.DefaultConfig()
	cmd.Flags().IntVar(&o.extraPageSize, "extra-page-size", flagutil.EnvIntDefault("EXTRA_PAGE_SIZE", 50), "Issues and pull requests fetched per page beyond the embedded first page.")
	cmd.Flags().IntVar(&o.rateLimitCheckInterval, "rate-limit-check-interval", flagutil.EnvIntDefault("RATE_LIMIT_CHECK_INTERVAL", 60), "Probe the rate limit budget every this many rows. Zero disables the probe.")
	cmd.Flags().BoolVar(&o.resume, "resume-from-last-save", flagutil.EnvBoolDefault("RESUME_FROM_LAST_SAVE", false), "Resume from the saved state file instead of starting fresh.")
	cmd.Flags().StringVar(&o.stateFile, "state-file", flagutil.EnvDefault("STATE_FILE", state.DefaultFileName), "Path of the durable state file.")
	cmd.Flags().IntVar(&o.retryMaxAttempts, "retry-max-attempts", flagutil.EnvIntDefault("RETRY_MAX_ATTEMPTS", d.MaxAttempts), "Failed attempts tolerated before the harvest gives up.")
	cmd.Flags().IntVar(&o.retryInitialDelayMS, "retry-initial-delay", flagutil.EnvIntDefault("RETRY_INITIAL_DELAY", int(d.InitialDelay/time.Millisecond)), "First backoff delay in milliseconds.")
	cmd.Flags().IntVar(&o.retryMaxDelayMS, "retry-max-delay", flagutil.EnvIntDefault("RETRY_MAX_DELAY", int(d.MaxDelay/time.Millisecond)), "Backoff delay ceiling in milliseconds.")
	cmd.Flags().Float64Var(&o.retryBackoffFactor, "retry-backoff-factor", flagutil.EnvFloatDefault("RETRY_BACKOFF_FACTOR", d.BackoffFactor), "Multiplier applied to the delay after each failed attempt.")
	cmd.Flags().IntVar(&o.retrySuccessThreshold, "retry-success-threshold", flagutil.EnvIntDefault("RETRY_SUCCESS_THRESHOLD", d.SuccessThreshold), "Consecutive successful rows that reset the retry budget.")
	return cmd
}

func (o *options) validate() error {
	if err := o.github.Validate(); err != nil {
		return err
	}
	if o.extraPageSize <= 0 {
		return fmt.Errorf("--extra-page-size must be positive")
	}
	if o.rateLimitCheckInterval < 0 {
		return fmt.Errorf("--rate-limit-check-interval must not be negative")
	}
	if o.retryMaxAttempts <= 0 {
		return fmt.Errorf("--retry-max-attempts must be positive")
	}
	if o.retryBackoffFactor < 1 {
		return fmt.Errorf("--retry-backoff-factor must be at least 1")
	}
	return nil
}

func run(o *options) {
	if err := o.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	closer, err := logrusutil.Init("repo-stats", o.github.OrgName, o.github.Verbose, o.github.LogDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()
	log := logrus.WithField("org", o.github.OrgName)

	ctx := context.Background()
	client, err := o.github.Client(ctx)
	if err != nil {
		log.WithError(err).Fatal("Could not construct the API client.")
	}

	engine := harvest.New(
		harvest.NewRemote(client),
		state.NewStore(o.stateFile),
		ratelimit.NewGovernor(client, ratelimit.DefaultPauseCap),
		retry.New(retry.Config{
			MaxAttempts:      o.retryMaxAttempts,
			InitialDelay:     time.Duration(o.retryInitialDelayMS) * time.Millisecond,
			MaxDelay:         time.Duration(o.retryMaxDelayMS) * time.Millisecond,
			BackoffFactor:    o.retryBackoffFactor,
			SuccessThreshold: o.retrySuccessThreshold,
		}),
		func(fileName string) (harvest.Sink, error) { return row.OpenSink(fileName) },
		harvest.Options{
			Org:                    o.github.OrgName,
			PageSize:               o.github.PageSize,
			ExtraPageSize:          o.extraPageSize,
			RateLimitCheckInterval: o.rateLimitCheckInterval,
			Resume:                 o.resume,
		},
	)

	if err := engine.Run(ctx); err != nil {
		log.WithError(err).Fatal("Harvest failed.")
	}
}
