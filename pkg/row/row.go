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

// Package row shapes repository snapshots and aggregate counts into the
// flat output record and appends records to the CSV sink.
package row

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/org-tools/repostats/pkg/github"
)

// Thresholds for the migration-risk flag.
const (
	migrationRecordThreshold = 60000
	migrationSizeMBThreshold = 1500
)

// IssueTotals are the folded issue aggregates for one repository.
type IssueTotals struct {
	Comments int
	Events   int
}

// PullTotals are the folded pull request aggregates for one repository.
// Events and Comments feed the shared issue-event and issue-comment
// columns; Commits feeds the commit-comment column.
type PullTotals struct {
	Events         int
	Comments       int
	Reviews        int
	ReviewComments int
	Commits        int
}

// Row is the flat output record, one per repository.
type Row struct {
	OrgName              string
	RepoName             string
	IsEmpty              bool
	LastPush             time.Time
	LastUpdate           time.Time
	IsFork               bool
	IsArchived           bool
	DiskSizeKB           int
	RepoSizeMB           int
	RecordCount          int
	CollaboratorCount    int
	ProtectedBranchCount int
	PRReviewCount        int
	PRReviewCommentCount int
	CommitCommentCount   int
	MilestoneCount       int
	PRCount              int
	ProjectCount         int
	BranchCount          int
	ReleaseCount         int
	IssueCount           int
	IssueEventCount      int
	IssueCommentCount    int
	TagCount             int
	DiscussionCount      int
	HasWiki              bool
	FullURL              string
	MigrationIssue       bool
	Created              time.Time
}

// Header is the output column set, in the exact order downstream readers
// rely on.
var Header = []string{
	"Org_Name", "Repo_Name", "Is_Empty", "Last_Push", "Last_Update",
	"isFork", "isArchived", "Disk_Size_kb", "Repo_Size_mb", "Record_Count",
	"Collaborator_Count", "Protected_Branch_Count", "PR_Review_Count",
	"PR_Review_Comment_Count", "Commit_Comment_Count", "Milestone_Count",
	"PR_Count", "Project_Count", "Branch_Count", "Release_Count",
	"Issue_Count", "Issue_Event_Count", "Issue_Comment_Count", "Tag_Count",
	"Discussion_Count", "Has_Wiki", "Full_URL", "Migration_Issue", "Created",
}

// Shape folds a repository snapshot and its aggregates into an output row.
func Shape(org string, snap *github.RepoSnapshot, issues IssueTotals, pulls PullTotals) (Row, error) {
	if snap.DiskUsage == nil {
		return Row{}, fmt.Errorf("repository %s has no disk usage in snapshot", snap.Name)
	}
	kb := int(*snap.DiskUsage)

	r := Row{
		OrgName:              org,
		RepoName:             string(snap.Name),
		IsEmpty:              bool(snap.IsEmpty),
		LastPush:             snap.PushedAt.Time,
		LastUpdate:           snap.UpdatedAt.Time,
		IsFork:               bool(snap.IsFork),
		IsArchived:           bool(snap.IsArchived),
		DiskSizeKB:           kb,
		RepoSizeMB:           kb / 1024,
		CollaboratorCount:    int(snap.Collaborators.TotalCount),
		ProtectedBranchCount: int(snap.BranchProtectionRules.TotalCount),
		PRReviewCount:        pulls.Reviews,
		PRReviewCommentCount: pulls.ReviewComments,
		CommitCommentCount:   int(snap.CommitComments.TotalCount) + pulls.Commits,
		MilestoneCount:       int(snap.Milestones.TotalCount),
		PRCount:              int(snap.PullRequests.TotalCount),
		ProjectCount:         int(snap.Projects.TotalCount),
		BranchCount:          int(snap.Branches.TotalCount),
		ReleaseCount:         int(snap.Releases.TotalCount),
		IssueCount:           int(snap.Issues.TotalCount),
		IssueEventCount:      issues.Events + pulls.Events,
		IssueCommentCount:    issues.Comments + pulls.Comments,
		TagCount:             int(snap.Tags.TotalCount),
		DiscussionCount:      int(snap.Discussions.TotalCount),
		HasWiki:              bool(snap.HasWikiEnabled),
		FullURL:              snap.URL.String(),
		Created:              snap.CreatedAt.Time,
	}

	// Pull requests count twice: once as PRs and once as reviews, matching
	// the source-of-truth record accounting.
	r.RecordCount = r.CollaboratorCount + r.ProtectedBranchCount + 2*r.PRCount +
		r.MilestoneCount + r.IssueCount + r.PRReviewCommentCount +
		r.CommitCommentCount + r.IssueCommentCount + r.IssueEventCount +
		r.ReleaseCount + r.ProjectCount

	r.MigrationIssue = r.RecordCount >= migrationRecordThreshold || r.RepoSizeMB > migrationSizeMBThreshold

	return r, nil
}

// Strings renders the row in Header order.
func (r Row) Strings() []string {
	return []string{
		r.OrgName,
		r.RepoName,
		strconv.FormatBool(r.IsEmpty),
		formatTime(r.LastPush),
		formatTime(r.LastUpdate),
		strconv.FormatBool(r.IsFork),
		strconv.FormatBool(r.IsArchived),
		strconv.Itoa(r.DiskSizeKB),
		strconv.Itoa(r.RepoSizeMB),
		strconv.Itoa(r.RecordCount),
		strconv.Itoa(r.CollaboratorCount),
		strconv.Itoa(r.ProtectedBranchCount),
		strconv.Itoa(r.PRReviewCount),
		strconv.Itoa(r.PRReviewCommentCount),
		strconv.Itoa(r.CommitCommentCount),
		strconv.Itoa(r.MilestoneCount),
		strconv.Itoa(r.PRCount),
		strconv.Itoa(r.ProjectCount),
		strconv.Itoa(r.BranchCount),
		strconv.Itoa(r.ReleaseCount),
		strconv.Itoa(r.IssueCount),
		strconv.Itoa(r.IssueEventCount),
		strconv.Itoa(r.IssueCommentCount),
		strconv.Itoa(r.TagCount),
		strconv.Itoa(r.DiscussionCount),
		strconv.FormatBool(r.HasWiki),
		r.FullURL,
		strconv.FormatBool(r.MigrationIssue),
		formatTime(r.Created),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FileName implements the <org-lowercased>-all_repos-YYYYMMDDHHMM_ts.csv
// output file convention.
func FileName(org string, now time.Time) string {
	return fmt.Sprintf("%s-all_repos-%s_ts.csv", strings.ToLower(org), now.Format("200601021504"))
}
