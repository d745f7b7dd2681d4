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

	gogithub "github.com/google/go-github/v43/github"
	githubql "github.com/shurcooL/githubv4"
)

type orgReposQuery struct {
	Organization struct {
		Repositories struct {
			PageInfo PageInfo
			Nodes    []RepoSnapshot
		} `graphql:"repositories(first: $pageSize, after: $cursor, orderBy: {field: NAME, direction: ASC})"`
	} `graphql:"organization(login: $org)"`
}

// RepoIterator walks an organization's repositories in ascending name
// order, one remote page at a time. It is finite and non-restartable.
type RepoIterator struct {
	c             *Client
	org           string
	pageSize      int
	extraPageSize int

	// after is the cursor the next page will be fetched with.
	after *githubql.String
	// pageAfter is the cursor the buffered page was fetched with.
	pageAfter *string
	buf       []RepoSnapshot
	fetched   bool
	done      bool
}

// OrgRepositories opens an iterator over the organization's repositories.
// A non-nil resume cursor restarts the walk at that page boundary.
// extraPageSize sizes the embedded first-page issue and PR connections.
func (c *Client) OrgRepositories(org string, pageSize, extraPageSize int, resume *string) *RepoIterator {
	it := &RepoIterator{c: c, org: org, pageSize: pageSize, extraPageSize: extraPageSize}
	if resume != nil {
		s := githubql.String(*resume)
		it.after = &s
	}
	return it
}

// Next yields the next repository snapshot along with the cursor its page
// was fetched with (nil for the first page). It returns (nil, nil, nil)
// once the organization is drained.
func (it *RepoIterator) Next(ctx context.Context) (*RepoSnapshot, *string, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, nil, nil
		}
		if err := it.fetchPage(ctx); err != nil {
			return nil, nil, err
		}
	}
	snap := it.buf[0]
	it.buf = it.buf[1:]
	return &snap, it.pageAfter, nil
}

func (it *RepoIterator) fetchPage(ctx context.Context) error {
	if it.fetched && it.after == nil {
		it.done = true
		return nil
	}
	vars := map[string]interface{}{
		"org":           githubql.String(it.org),
		"pageSize":      githubql.Int(it.pageSize),
		"extraPageSize": githubql.Int(it.extraPageSize),
		"cursor":        it.after,
	}
	var q orgReposQuery
	if err := it.c.gql.Query(ctx, &q, vars); err != nil {
		if it.after != nil {
			return fmt.Errorf("cursor: %q, err: %w", string(*it.after), err)
		}
		return err
	}
	it.fetched = true
	it.pageAfter = nil
	if it.after != nil {
		s := string(*it.after)
		it.pageAfter = &s
	}
	it.buf = q.Organization.Repositories.Nodes
	if q.Organization.Repositories.PageInfo.HasNextPage {
		cursor := q.Organization.Repositories.PageInfo.EndCursor
		it.after = &cursor
	} else {
		it.after = nil
		if len(it.buf) == 0 {
			it.done = true
		}
	}
	return nil
}

type repoIssuesQuery struct {
	Repository struct {
		Issues struct {
			PageInfo PageInfo
			Nodes    []IssueNode
		} `graphql:"issues(first: $pageSize, after: $cursor)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// ForEachIssue pages through a repository's issues starting after the given
// cursor, calling fn once per node. Used to continue past the first-page
// nodes embedded in an organization walk snapshot.
func (c *Client) ForEachIssue(ctx context.Context, owner, repo string, pageSize int, after string, fn func(IssueNode) error) error {
	cursor := githubql.String(after)
	for {
		vars := map[string]interface{}{
			"owner":    githubql.String(owner),
			"name":     githubql.String(repo),
			"pageSize": githubql.Int(pageSize),
			"cursor":   &cursor,
		}
		var q repoIssuesQuery
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return fmt.Errorf("cursor: %q, err: %w", string(cursor), err)
		}
		for _, node := range q.Repository.Issues.Nodes {
			if err := fn(node); err != nil {
				return err
			}
		}
		if !q.Repository.Issues.PageInfo.HasNextPage {
			return nil
		}
		cursor = q.Repository.Issues.PageInfo.EndCursor
	}
}

type repoPullRequestsQuery struct {
	Repository struct {
		PullRequests struct {
			PageInfo PageInfo
			Nodes    []PullRequestNode
		} `graphql:"pullRequests(first: $pageSize, after: $cursor)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// ForEachPullRequest pages through a repository's pull requests starting
// after the given cursor, calling fn once per node.
func (c *Client) ForEachPullRequest(ctx context.Context, owner, repo string, pageSize int, after string, fn func(PullRequestNode) error) error {
	cursor := githubql.String(after)
	for {
		vars := map[string]interface{}{
			"owner":    githubql.String(owner),
			"name":     githubql.String(repo),
			"pageSize": githubql.Int(pageSize),
			"cursor":   &cursor,
		}
		var q repoPullRequestsQuery
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return fmt.Errorf("cursor: %q, err: %w", string(cursor), err)
		}
		for _, node := range q.Repository.PullRequests.Nodes {
			if err := fn(node); err != nil {
				return err
			}
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			return nil
		}
		cursor = q.Repository.PullRequests.PageInfo.EndCursor
	}
}

// ListRepoNames returns every repository name in the organization via the
// lightweight REST listing. Used by the missing-repo auditor, which does
// not need the full stats query.
func (c *Client) ListRepoNames(ctx context.Context, org string) ([]string, error) {
	opt := &gogithub.RepositoryListByOrgOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	var names []string
	for {
		repos, resp, err := c.rest.Repositories.ListByOrg(ctx, org, opt)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for %s (page %d): %w", org, opt.Page, err)
		}
		for _, r := range repos {
			names = append(names, r.GetName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opt.Page = resp.NextPage
	}
}
