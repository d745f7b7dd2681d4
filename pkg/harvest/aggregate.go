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

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/org-tools/repostats/pkg/github"
	"github.com/org-tools/repostats/pkg/row"
)

// maxCountedCommits caps how many commits per pull request count toward
// the redundant-event estimate; the remote stops attributing timeline
// events past this many.
const maxCountedCommits = 250

// aggregate folds issue and pull request totals for one repository. The
// two sub-walks run concurrently; neither touches durable state.
func (e *Engine) aggregate(ctx context.Context, snap *github.RepoSnapshot) (row.IssueTotals, row.PullTotals, error) {
	var (
		issues row.IssueTotals
		pulls  row.PullTotals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = e.aggregateIssues(gctx, snap)
		return err
	})
	g.Go(func() error {
		var err error
		pulls, err = e.aggregatePullRequests(gctx, snap)
		return err
	})
	if err := g.Wait(); err != nil {
		return row.IssueTotals{}, row.PullTotals{}, err
	}
	return issues, pulls, nil
}

// aggregateIssues folds the first-page issue nodes embedded in the
// snapshot and continues with paginated fetches when more pages exist. The
// embedded nodes are never re-fetched.
func (e *Engine) aggregateIssues(ctx context.Context, snap *github.RepoSnapshot) (row.IssueTotals, error) {
	if snap.Issues.TotalCount <= 0 {
		return row.IssueTotals{}, nil
	}

	var comments, timeline int
	for _, n := range snap.Issues.Nodes {
		comments += int(n.Comments.TotalCount)
		timeline += int(n.TimelineItems.TotalCount)
	}
	totals := row.IssueTotals{
		Comments: comments,
		Events:   timeline - comments,
	}

	if snap.Issues.PageInfo.HasNextPage && snap.Issues.PageInfo.EndCursor != "" {
		err := e.remote.ForEachIssue(ctx, string(snap.Owner.Login), string(snap.Name), e.opts.ExtraPageSize, string(snap.Issues.PageInfo.EndCursor), func(n github.IssueNode) error {
			totals.Comments += int(n.Comments.TotalCount)
			totals.Events += int(n.TimelineItems.TotalCount) - int(n.Comments.TotalCount)
			return nil
		})
		if err != nil {
			e.log.WithError(err).WithField("repo", string(snap.Name)).Error("Issue pagination failed; consider reducing page size.")
			return row.IssueTotals{}, err
		}
	}
	return totals, nil
}

// aggregatePullRequests folds per-PR totals. Each PR contributes its
// timeline events minus the redundant ones (its comments plus up to
// maxCountedCommits commits) to the shared issue-event total. The delta is
// applied verbatim even when it is negative.
func (e *Engine) aggregatePullRequests(ctx context.Context, snap *github.RepoSnapshot) (row.PullTotals, error) {
	if snap.PullRequests.TotalCount <= 0 {
		return row.PullTotals{}, nil
	}

	var totals row.PullTotals
	fold := func(n github.PullRequestNode) {
		comments := int(n.Comments.TotalCount)
		commits := int(n.Commits.TotalCount)
		timeline := int(n.TimelineItems.TotalCount)

		counted := commits
		if counted > maxCountedCommits {
			counted = maxCountedCommits
		}
		redundant := comments + counted
		if redundant > timeline {
			e.log.WithFields(logrus.Fields{
				"repo":      string(snap.Name),
				"pr":        int(n.Number),
				"timeline":  timeline,
				"comments":  comments,
				"commits":   commits,
				"redundant": redundant,
			}).Warn("More redundant events than timeline events.")
		}

		totals.Events += timeline - redundant
		totals.Comments += comments
		totals.Reviews += int(n.Reviews.TotalCount)
		for _, rv := range n.Reviews.Nodes {
			totals.ReviewComments += int(rv.Comments.TotalCount)
		}
		totals.Commits += commits
	}

	for _, n := range snap.PullRequests.Nodes {
		fold(n)
	}

	if snap.PullRequests.PageInfo.HasNextPage && snap.PullRequests.PageInfo.EndCursor != "" {
		err := e.remote.ForEachPullRequest(ctx, string(snap.Owner.Login), string(snap.Name), e.opts.ExtraPageSize, string(snap.PullRequests.PageInfo.EndCursor), func(n github.PullRequestNode) error {
			fold(n)
			return nil
		})
		if err != nil {
			e.log.WithError(err).WithField("repo", string(snap.Name)).Error("Pull request pagination failed; consider reducing page size.")
			return row.PullTotals{}, err
		}
	}
	return totals, nil
}
