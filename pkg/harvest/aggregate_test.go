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

package harvest

import (
	"context"
	"errors"
	"testing"

	githubql "github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org-tools/repostats/pkg/github"
	"github.com/org-tools/repostats/pkg/row"
)

func githubqlInt(i int) githubql.Int { return githubql.Int(i) }

func issueNode(comments, timeline int) github.IssueNode {
	var n github.IssueNode
	n.Comments.TotalCount = githubqlInt(comments)
	n.TimelineItems.TotalCount = githubqlInt(timeline)
	return n
}

func pullNode(number, comments, commits, timeline, reviews int, reviewComments ...int) github.PullRequestNode {
	var n github.PullRequestNode
	n.Number = githubqlInt(number)
	n.Comments.TotalCount = githubqlInt(comments)
	n.Commits.TotalCount = githubqlInt(commits)
	n.TimelineItems.TotalCount = githubqlInt(timeline)
	n.Reviews.TotalCount = githubqlInt(reviews)
	for _, c := range reviewComments {
		var rv github.ReviewNode
		rv.Comments.TotalCount = githubqlInt(c)
		n.Reviews.Nodes = append(n.Reviews.Nodes, rv)
	}
	return n
}

func TestAggregateIssuesFromEmbeddedPage(t *testing.T) {
	snap := makeSnap("widget")
	snap.Issues.TotalCount = 2
	snap.Issues.Nodes = []github.IssueNode{issueNode(3, 7), issueNode(2, 4)}

	e, _, _ := newTestEngine(t, &fakeRemote{}, Options{})
	issues, err := e.aggregateIssues(context.Background(), snap)
	require.NoError(t, err)

	// Comments come out of the timeline so they are not double counted.
	assert.Equal(t, row.IssueTotals{Comments: 5, Events: 6}, issues)
}

func TestAggregateIssuesContinuesPastFirstPage(t *testing.T) {
	snap := makeSnap("widget")
	snap.Issues.TotalCount = 3
	snap.Issues.Nodes = []github.IssueNode{issueNode(3, 7), issueNode(2, 4)}
	snap.Issues.PageInfo.HasNextPage = true
	snap.Issues.PageInfo.EndCursor = "issues-p1"

	remote := &fakeRemote{issueNodes: map[string][]github.IssueNode{
		"widget": {issueNode(1, 5)},
	}}
	e, _, _ := newTestEngine(t, remote, Options{})
	issues, err := e.aggregateIssues(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, row.IssueTotals{Comments: 6, Events: 10}, issues)
}

func TestAggregateIssuesZeroTotalShortCircuits(t *testing.T) {
	snap := makeSnap("widget")
	// A stale page info with no issues must not trigger a sub-walk.
	snap.Issues.PageInfo.HasNextPage = true
	snap.Issues.PageInfo.EndCursor = "stale"

	remote := &fakeRemote{issueNodes: map[string][]github.IssueNode{
		"widget": {issueNode(9, 9)},
	}}
	e, _, _ := newTestEngine(t, remote, Options{})
	issues, err := e.aggregateIssues(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, row.IssueTotals{}, issues)
}

func TestAggregateIssuesSurfacesPaginationError(t *testing.T) {
	snap := makeSnap("widget")
	snap.Issues.TotalCount = 1
	snap.Issues.PageInfo.HasNextPage = true
	snap.Issues.PageInfo.EndCursor = "issues-p1"

	remote := &fakeRemote{issueErrRepo: "widget", issueErr: errors.New("boom")}
	e, _, _ := newTestEngine(t, remote, Options{})
	_, err := e.aggregateIssues(context.Background(), snap)
	assert.Error(t, err)
}

func TestAggregatePullRequestsFoldsTotals(t *testing.T) {
	snap := makeSnap("widget")
	snap.PullRequests.TotalCount = 1
	snap.PullRequests.Nodes = []github.PullRequestNode{
		pullNode(7, 2, 300, 260, 3, 1, 2),
	}

	e, _, _ := newTestEngine(t, &fakeRemote{}, Options{})
	pulls, err := e.aggregatePullRequests(context.Background(), snap)
	require.NoError(t, err)

	// Only 250 of the 300 commits count as redundant timeline events, but
	// every commit feeds the commit-comment total.
	assert.Equal(t, row.PullTotals{
		Events:         260 - (2 + 250),
		Comments:       2,
		Reviews:        3,
		ReviewComments: 3,
		Commits:        300,
	}, pulls)
}

func TestAggregatePullRequestsKeepsNegativeEventDelta(t *testing.T) {
	snap := makeSnap("widget")
	snap.PullRequests.TotalCount = 1
	snap.PullRequests.Nodes = []github.PullRequestNode{
		pullNode(1, 4, 3, 5, 0),
	}

	e, _, _ := newTestEngine(t, &fakeRemote{}, Options{})
	pulls, err := e.aggregatePullRequests(context.Background(), snap)
	require.NoError(t, err)

	// redundant (4 comments + 3 commits) exceeds the 5 timeline events;
	// the delta is recorded as-is rather than clamped.
	assert.Equal(t, -2, pulls.Events)
}

func TestAggregatePullRequestsContinuesPastFirstPage(t *testing.T) {
	snap := makeSnap("widget")
	snap.PullRequests.TotalCount = 2
	snap.PullRequests.Nodes = []github.PullRequestNode{
		pullNode(1, 1, 1, 4, 1, 2),
	}
	snap.PullRequests.PageInfo.HasNextPage = true
	snap.PullRequests.PageInfo.EndCursor = "pulls-p1"

	remote := &fakeRemote{pullNodes: map[string][]github.PullRequestNode{
		"widget": {pullNode(2, 2, 1, 5, 1, 3)},
	}}
	e, _, _ := newTestEngine(t, remote, Options{})
	pulls, err := e.aggregatePullRequests(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, row.PullTotals{
		Events:         (4 - 2) + (5 - 3),
		Comments:       3,
		Reviews:        2,
		ReviewComments: 5,
		Commits:        2,
	}, pulls)
}

func TestAggregateRunsBothWalks(t *testing.T) {
	snap := makeSnap("widget")
	snap.Issues.TotalCount = 1
	snap.Issues.Nodes = []github.IssueNode{issueNode(2, 6)}
	snap.PullRequests.TotalCount = 1
	snap.PullRequests.Nodes = []github.PullRequestNode{pullNode(1, 1, 1, 4, 1, 2)}

	e, _, _ := newTestEngine(t, &fakeRemote{}, Options{})
	issues, pulls, err := e.aggregate(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, row.IssueTotals{Comments: 2, Events: 4}, issues)
	assert.Equal(t, row.PullTotals{Events: 2, Comments: 1, Reviews: 1, ReviewComments: 2, Commits: 1}, pulls)
}
