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

// Package missingrepos implements the missing-repos subcommand, an audit
// that diffs the organization's live repository list against a previously
// produced report.
package missingrepos

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/org-tools/repostats/pkg/audit"
	"github.com/org-tools/repostats/pkg/flagutil"
	"github.com/org-tools/repostats/pkg/logrusutil"
)

type options struct {
	github         flagutil.GitHubOptions
	outputFileName string
}

// MakeCommand returns the `missing-repos` command.
func MakeCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "missing-repos",
		Short: "List organization repositories absent from a harvest report.",
		Long: `Fetch the organization's current repository names and print the ones that
do not appear in the given report file, sorted by name. Useful after a
harvest to confirm nothing was skipped.`,
		Run: func(cmd *cobra.Command, args []string) {
			run(o)
		},
	}
	o.github.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&o.outputFileName, "output-file-name", flagutil.EnvDefault("OUTPUT_FILE_NAME", ""), "Report file to audit (required).")
	return cmd
}

func run(o *options) {
	if err := o.github.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if o.outputFileName == "" {
		fmt.Fprintln(os.Stderr, "--output-file-name is required")
		os.Exit(2)
	}

	closer, err := logrusutil.Init("missing-repos", o.github.OrgName, o.github.Verbose, o.github.LogDir)
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

	missing, err := audit.MissingRepos(ctx, client, o.github.OrgName, o.outputFileName)
	if err != nil {
		log.WithError(err).Fatal("Audit failed.")
	}

	for _, name := range missing {
		fmt.Println(name)
	}
	log.WithFields(logrus.Fields{
		"missing": len(missing),
		"report":  o.outputFileName,
	}).Info("Audit complete.")
}
