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

// Package harvest drives the organization walk: it pages repositories in
// cursor order, fans out issue and pull request aggregation per repository,
// emits one output row per repository, and advances the durable state so a
// killed run resumes at the last known-good page.
package harvest

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/org-tools/repostats/pkg/github"
	"github.com/org-tools/repostats/pkg/ratelimit"
	"github.com/org-tools/repostats/pkg/retry"
	"github.com/org-tools/repostats/pkg/row"
	"github.com/org-tools/repostats/pkg/state"
)

// ErrRateLimited is surfaced when the governor orders a pause. The retry
// envelope sleeps it off and re-enters the harvest, which resumes from
// durable state.
var ErrRateLimited = errors.New("rate limit exhausted, pausing harvest")

// RepoIterator yields repository snapshots together with the cursor their
// page was fetched with.
type RepoIterator interface {
	Next(ctx context.Context) (*github.RepoSnapshot, *string, error)
}

// Remote is the slice of the client facade the engine drives.
type Remote interface {
	OrgRepositories(org string, pageSize, extraPageSize int, resume *string) RepoIterator
	ForEachIssue(ctx context.Context, owner, repo string, pageSize int, after string, fn func(github.IssueNode) error) error
	ForEachPullRequest(ctx context.Context, owner, repo string, pageSize int, after string, fn func(github.PullRequestNode) error) error
}

type clientRemote struct {
	c *github.Client
}

func (r clientRemote) OrgRepositories(org string, pageSize, extraPageSize int, resume *string) RepoIterator {
	return r.c.OrgRepositories(org, pageSize, extraPageSize, resume)
}

func (r clientRemote) ForEachIssue(ctx context.Context, owner, repo string, pageSize int, after string, fn func(github.IssueNode) error) error {
	return r.c.ForEachIssue(ctx, owner, repo, pageSize, after, fn)
}

func (r clientRemote) ForEachPullRequest(ctx context.Context, owner, repo string, pageSize int, after string, fn func(github.PullRequestNode) error) error {
	return r.c.ForEachPullRequest(ctx, owner, repo, pageSize, after, fn)
}

// NewRemote adapts the concrete client to the engine's Remote interface.
func NewRemote(c *github.Client) Remote {
	return clientRemote{c: c}
}

// Governor is the rate-limit check invoked every few rows.
type Governor interface {
	Check(ctx context.Context) ratelimit.Directive
}

// Sink accepts shaped rows.
type Sink interface {
	WriteRow(row.Row) error
	Close() error
}

// SinkFactory opens the sink for an attempt. The engine passes the file
// name the run is bound to (from state when resuming, fresh otherwise).
type SinkFactory func(fileName string) (Sink, error)

// Options configure one harvest run.
type Options struct {
	Org                    string
	PageSize               int
	ExtraPageSize          int
	RateLimitCheckInterval int
	Resume                 bool
}

// Engine walks the organization. One Run is wrapped by the retry envelope;
// every attempt reloads durable state so re-entry after a fault skips
// already-emitted repositories.
type Engine struct {
	remote   Remote
	store    *state.Store
	governor Governor
	retrier  *retry.Retrier
	openSink SinkFactory
	opts     Options
	log      *logrus.Entry

	// attempted flips after the first attempt so retries always pick up
	// the durable state this run has already written.
	attempted bool

	// now is swappable for tests.
	now func() time.Time
}

// New assembles an engine. The sink factory and store are wired by the
// invocation layer so the engine owns neither file.
func New(remote Remote, store *state.Store, governor Governor, retrier *retry.Retrier, openSink SinkFactory, opts Options) *Engine {
	return &Engine{
		remote:   remote,
		store:    store,
		governor: governor,
		retrier:  retrier,
		openSink: openSink,
		opts:     opts,
		log:      logrus.WithFields(logrus.Fields{"component": "harvest", "org": opts.Org}),
		now:      time.Now,
	}
}

// Run harvests the organization to completion, retrying faulted attempts
// with backoff until the retry budget is exhausted.
func (e *Engine) Run(ctx context.Context) error {
	return e.retrier.Do(ctx, func() error {
		return e.attempt(ctx)
	}, func(attempt int, err error) {
		e.log.WithError(err).WithField("attempt", attempt).Warn("Harvest attempt failed, backing off before resuming.")
	})
}

// attempt is one pass of the walk: load state, open the iterator at the
// resume cursor, process repositories until the org drains or something
// breaks.
func (e *Engine) attempt(ctx context.Context) error {
	start := e.now()
	// The resume flag only decides whether a fresh process picks up a
	// previous one's progress. Re-entry after a within-run fault resumes
	// from durable state unconditionally, or the retry would re-emit rows
	// the failed attempt already wrote.
	resumeRequested := e.opts.Resume || e.attempted
	e.attempted = true
	st, resume := e.store.Load(resumeRequested)
	if st.CompletedSuccessfully {
		e.log.Info("Previous harvest already completed successfully; nothing to do.")
		return nil
	}
	if resume {
		e.log.WithFields(logrus.Fields{
			"processed": len(st.ProcessedRepos),
			"last_repo": st.LastProcessedRepo,
		}).Info("Resuming from saved state.")
	}

	fileName := row.FileName(e.opts.Org, e.now())
	if resume && st.OutputFileName != "" {
		fileName = st.OutputFileName
	}
	st.OutputFileName = fileName

	sink, err := e.openSink(fileName)
	if err != nil {
		return err
	}
	defer sink.Close()

	var resumeCursor *string
	if st.CurrentCursor != nil {
		resumeCursor = st.CurrentCursor
	} else if st.LastSuccessfulCursor != nil {
		resumeCursor = st.LastSuccessfulCursor
	}

	it := e.remote.OrgRepositories(e.opts.Org, e.opts.PageSize, e.opts.ExtraPageSize, resumeCursor)

	rows := 0
	runErr := e.walk(ctx, it, st, sink, &rows)
	if runErr != nil {
		// Resume at the last known-good page rather than re-entering the
		// poisoned page from its midpoint.
		st.CurrentCursor = st.LastSuccessfulCursor
		e.store.Save(st)
		return runErr
	}

	// The iterator drained naturally: no further page exists.
	st.CurrentCursor = nil
	st.CompletedSuccessfully = true
	e.store.Save(st)
	e.log.WithFields(logrus.Fields{
		"rows_this_run":   rows,
		"total_processed": len(st.ProcessedRepos),
		"output":          fileName,
		"duration":        e.now().Sub(start).String(),
	}).Info("Harvest completed successfully.")
	return nil
}

func (e *Engine) walk(ctx context.Context, it RepoIterator, st *state.State, sink Sink, rows *int) error {
	for {
		snap, pageCursor, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if snap == nil {
			return nil
		}

		if !cursorEqual(st.CurrentCursor, pageCursor) {
			st.CurrentCursor = pageCursor
		}

		name := string(snap.Name)
		if st.HasProcessed(name) {
			e.log.WithField("repo", name).Debug("Already processed, skipping.")
			continue
		}

		issues, pulls, err := e.aggregate(ctx, snap)
		if err != nil {
			return err
		}
		r, err := row.Shape(e.opts.Org, snap, issues, pulls)
		if err != nil {
			return err
		}
		if err := sink.WriteRow(r); err != nil {
			return err
		}

		st.MarkProcessed(name)
		st.LastSuccessfulCursor = st.CurrentCursor
		e.store.Save(st)
		e.retrier.NoteSuccess()
		*rows++
		e.log.WithFields(logrus.Fields{
			"repo":         name,
			"record_count": r.RecordCount,
		}).Debug("Row written.")

		if e.opts.RateLimitCheckInterval > 0 && *rows%e.opts.RateLimitCheckInterval == 0 {
			switch e.governor.Check(ctx) {
			case ratelimit.Pause:
				return ErrRateLimited
			case ratelimit.Fatal:
				return retry.Abort(errors.New("rate limit probe failing persistently, giving up"))
			}
		}
	}
}

func cursorEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
