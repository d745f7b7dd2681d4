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
	githubql "github.com/shurcooL/githubv4"
)

// Count is a GraphQL connection queried for its totalCount only.
type Count struct {
	TotalCount githubql.Int
}

// PageInfo is the standard GraphQL pagination block.
type PageInfo struct {
	EndCursor   githubql.String
	HasNextPage githubql.Boolean
}

// IssueNode carries the per-issue totals the harvester folds.
type IssueNode struct {
	Comments      Count
	TimelineItems Count
}

// ReviewNode carries the comment total of a single PR review.
type ReviewNode struct {
	Comments Count
}

// PullRequestNode carries the per-PR totals the harvester folds, plus the
// first page of reviews so review comments can be summed without another
// round trip.
type PullRequestNode struct {
	Number        githubql.Int
	Comments      Count
	Commits       Count
	TimelineItems Count
	Reviews       struct {
		TotalCount githubql.Int
		Nodes      []ReviewNode
	} `graphql:"reviews(first: 100)"`
}

// RepoSnapshot is one repository node from the organization walk. The
// embedded issue and pull request connections hold their first page of
// nodes; sub-pagination continues from their end cursors.
type RepoSnapshot struct {
	Name  githubql.String
	Owner struct {
		Login githubql.String
	}
	CreatedAt      githubql.DateTime
	PushedAt       githubql.DateTime
	UpdatedAt      githubql.DateTime
	DiskUsage      *githubql.Int
	IsEmpty        githubql.Boolean
	IsFork         githubql.Boolean
	IsArchived     githubql.Boolean
	HasWikiEnabled githubql.Boolean
	URL            githubql.URI

	Branches              Count `graphql:"branches: refs(refPrefix: \"refs/heads/\")"`
	Tags                  Count `graphql:"tags: refs(refPrefix: \"refs/tags/\")"`
	BranchProtectionRules Count
	Collaborators         Count
	CommitComments        Count
	Discussions           Count
	Milestones            Count
	Releases              Count
	Projects              Count

	Issues struct {
		TotalCount githubql.Int
		PageInfo   PageInfo
		Nodes      []IssueNode
	} `graphql:"issues(first: $extraPageSize)"`
	PullRequests struct {
		TotalCount githubql.Int
		PageInfo   PageInfo
		Nodes      []PullRequestNode
	} `graphql:"pullRequests(first: $extraPageSize)"`
}

// Severity classifies a rate-limit probe result.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RateLimitStatus is the result of a quota probe. When the host has rate
// limiting disabled both remaining counts are reported as
// RateLimitDisabledSentinel.
type RateLimitStatus struct {
	GraphQLRemaining int
	RESTRemaining    int
	Message          string
	Severity         Severity
}

// RateLimitDisabledSentinel is reported for hosts that run without rate
// limiting (GitHub Enterprise can disable it entirely).
const RateLimitDisabledSentinel = 10000000000
