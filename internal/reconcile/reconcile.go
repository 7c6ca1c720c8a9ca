// Package reconcile turns pending edits into a pull request against the
// catalog repository. Edits are re-applied to a freshly fetched document and
// only fields that still differ are written.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"audiolibri/api/internal/catalog"
)

// ErrSubmissionInFlight is returned when a submit starts while another one
// is still running.
var ErrSubmissionInFlight = errors.New("a submission is already in progress")

// Source fetches the authoritative catalog document.
type Source interface {
	Fetch(ctx context.Context) (catalog.Document, error)
}

// Publisher writes a branch, a single-file commit and a pull request.
type Publisher interface {
	CreateBranch(ctx context.Context, branch, base string) error
	CommitDocument(ctx context.Context, branch, message string, content []byte) error
	OpenPullRequest(ctx context.Context, pr PullRequest) (PullRequestResult, error)
}

// BranchDeleter is implemented by publishers that can remove the branch of
// a submission that failed after the branch was created.
type BranchDeleter interface {
	DeleteBranch(ctx context.Context, branch string) error
}

type PullRequest struct {
	Head  string `json:"head"`
	Base  string `json:"base"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type PullRequestResult struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

type Request struct {
	Changes       catalog.Diff             `json:"changes"`
	Additions     map[string]*catalog.Item `json:"additions,omitempty"`
	BranchName    string                   `json:"branchName"`
	CommitMessage string                   `json:"commitMessage"`
	PRTitle       string                   `json:"prTitle"`
	PRDescription string                   `json:"prDescription"`
}

type Result struct {
	PRURL         string   `json:"prUrl"`
	PRNumber      int      `json:"prNumber"`
	Branch        string   `json:"branch"`
	ChangesCount  int      `json:"changesCount"`
	FieldsChanged int      `json:"fieldsChanged"`
	ItemsAdded    int      `json:"itemsAdded"`
	Skipped       []string `json:"skipped,omitempty"`
	DataHash      string   `json:"dataHash"`
}

// Observer is notified once per finished submission attempt.
type Observer func(outcome string, elapsed time.Duration)

type Flow struct {
	source     Source
	publisher  Publisher
	baseBranch string
	inFlight   atomic.Bool
	observe    Observer
	now        func() time.Time
}

func NewFlow(source Source, publisher Publisher, baseBranch string) *Flow {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Flow{
		source:     source,
		publisher:  publisher,
		baseBranch: baseBranch,
		now:        time.Now,
	}
}

func (f *Flow) SetObserver(observe Observer) { f.observe = observe }

func (f *Flow) BaseBranch() string { return f.baseBranch }

// Busy reports whether a submission is running.
func (f *Flow) Busy() bool { return f.inFlight.Load() }

var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// Validate checks the request without touching the network.
func Validate(req Request) error {
	if req.Changes.FieldCount() == 0 && len(req.Additions) == 0 {
		return catalog.NewValidationError("changes", "no changes to submit")
	}
	branch := strings.TrimSpace(req.BranchName)
	if branch == "" {
		return catalog.NewValidationError("branchName", "branch name is required")
	}
	if !branchNamePattern.MatchString(branch) || strings.Contains(branch, "..") ||
		strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
		return catalog.NewValidationError("branchName", "branch name is not a valid git ref")
	}
	if strings.TrimSpace(req.CommitMessage) == "" {
		return catalog.NewValidationError("commitMessage", "commit message is required")
	}
	if strings.TrimSpace(req.PRTitle) == "" {
		return catalog.NewValidationError("prTitle", "PR title is required")
	}
	return nil
}

// Submit validates req, re-applies it to a fresh copy of the document and
// publishes the result. Only one submission runs at a time.
func (f *Flow) Submit(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	if !f.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSubmissionInFlight
	}
	defer f.inFlight.Store(false)

	started := f.now()
	result, err := f.submit(ctx, req)
	if f.observe != nil {
		f.observe(Outcome(err), f.now().Sub(started))
	}
	return result, err
}

func (f *Flow) submit(ctx context.Context, req Request) (Result, error) {
	doc, err := f.source.Fetch(ctx)
	if err != nil {
		var fetchErr *catalog.RemoteFetchError
		if errors.As(err, &fetchErr) {
			return Result{}, err
		}
		return Result{}, &catalog.RemoteFetchError{Err: err}
	}

	applied := Apply(doc.Snapshot, req.Changes, req.Additions)
	for _, id := range applied.Skipped {
		log.Printf("reconcile: item %s not found in current data, skipped", id)
	}
	if applied.Empty() {
		return Result{}, &catalog.NoOpError{Skipped: applied.Skipped}
	}

	content, err := applied.Document.Bytes()
	if err != nil {
		return Result{}, fmt.Errorf("encode updated catalog: %w", err)
	}

	branch := strings.TrimSpace(req.BranchName)
	if err := f.publisher.CreateBranch(ctx, branch, f.baseBranch); err != nil {
		return Result{}, asSubmitError("create branch", err)
	}
	if err := f.publisher.CommitDocument(ctx, branch, strings.TrimSpace(req.CommitMessage), content); err != nil {
		f.dropBranch(ctx, branch)
		return Result{}, asSubmitError("commit catalog", err)
	}
	pr, err := f.publisher.OpenPullRequest(ctx, PullRequest{
		Head:  branch,
		Base:  f.baseBranch,
		Title: strings.TrimSpace(req.PRTitle),
		Body:  Describe(req.PRDescription, doc.Snapshot, req.Changes, applied),
	})
	if err != nil {
		f.dropBranch(ctx, branch)
		return Result{}, asSubmitError("open pull request", err)
	}
	log.Printf("reconcile: pull request #%d opened from %s (%d items)", pr.Number, branch, applied.ItemsChanged())

	return Result{
		PRURL:         pr.URL,
		PRNumber:      pr.Number,
		Branch:        branch,
		ChangesCount:  applied.ItemsChanged(),
		FieldsChanged: applied.FieldsChanged(),
		ItemsAdded:    len(applied.Added),
		Skipped:       applied.Skipped,
		DataHash:      catalog.HashBytes(doc.Raw),
	}, nil
}

// dropBranch removes the branch of a failed submission so the same name can
// be used again. Failures are logged; the original error is what the caller
// sees.
func (f *Flow) dropBranch(ctx context.Context, branch string) {
	deleter, ok := f.publisher.(BranchDeleter)
	if !ok {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := deleter.DeleteBranch(cleanupCtx, branch); err != nil {
		log.Printf("reconcile: could not delete branch %s after failed submission: %v", branch, err)
		return
	}
	log.Printf("reconcile: deleted branch %s after failed submission", branch)
}

func asSubmitError(op string, err error) error {
	var submitErr *catalog.SubmitError
	if errors.As(err, &submitErr) {
		if submitErr.Op == "" {
			submitErr.Op = op
		}
		return submitErr
	}
	return &catalog.SubmitError{Op: op, Err: err}
}

// Outcome classifies a Submit error for metrics and the audit log.
func Outcome(err error) string {
	var (
		validationErr *catalog.ValidationError
		noOpErr       *catalog.NoOpError
		fetchErr      *catalog.RemoteFetchError
		submitErr     *catalog.SubmitError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSubmissionInFlight):
		return "in_flight"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &noOpErr):
		return "noop"
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &submitErr):
		return "submit_error"
	}
	return "error"
}
