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

// Package audit diffs an organization's live repository set against a
// previously emitted output file, surfacing repositories the harvest
// missed.
package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
)

// RepoNameLister lists an organization's repository names. The lightweight
// REST listing is enough; the full stats query is not needed here.
type RepoNameLister interface {
	ListRepoNames(ctx context.Context, org string) ([]string, error)
}

const repoNameColumn = "Repo_Name"

// MissingRepos returns the live repository names absent from the output
// file, sorted ascending.
func MissingRepos(ctx context.Context, lister RepoNameLister, org, outputPath string) ([]string, error) {
	emitted, err := emittedNames(outputPath)
	if err != nil {
		return nil, err
	}

	live, err := lister.ListRepoNames(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("listing live repositories: %w", err)
	}

	var missing []string
	for _, name := range live {
		if !emitted[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// emittedNames reads the repo-name column of an output file into a set.
func emittedNames(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	col := -1
	for i, name := range header {
		if name == repoNameColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%s has no %s column", path, repoNameColumn)
	}

	names := map[string]bool{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if col < len(record) {
			names[record[col]] = true
		}
	}
}
