package reconcile

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"audiolibri/api/internal/catalog"
)

const freshDoc = `{
  "42": {"title": "Upload 42", "real_title": "Old", "real_genre": "Horror"},
  "7": {"title": "Upload 7", "real_genre": "Fantasy", "processed": false}
}`

type fakeSource struct {
	calls   atomic.Int32
	fetchFn func(context.Context) (catalog.Document, error)
}

func (f *fakeSource) Fetch(ctx context.Context) (catalog.Document, error) {
	f.calls.Add(1)
	if f.fetchFn != nil {
		return f.fetchFn(ctx)
	}
	return catalog.ParseDocument([]byte(freshDoc))
}

type fakePublisher struct {
	branches []string
	commits  [][]byte
	prs      []PullRequest
	deleted  []string

	createBranchFn func(branch, base string) error
	commitFn       func(branch string) error
	openPRFn       func(PullRequest) (PullRequestResult, error)
}

func (f *fakePublisher) calls() int {
	return len(f.branches) + len(f.commits) + len(f.prs)
}

func (f *fakePublisher) CreateBranch(_ context.Context, branch, base string) error {
	f.branches = append(f.branches, branch+"<-"+base)
	if f.createBranchFn != nil {
		return f.createBranchFn(branch, base)
	}
	return nil
}

func (f *fakePublisher) CommitDocument(_ context.Context, branch, _ string, content []byte) error {
	f.commits = append(f.commits, content)
	if f.commitFn != nil {
		return f.commitFn(branch)
	}
	return nil
}

func (f *fakePublisher) DeleteBranch(_ context.Context, branch string) error {
	f.deleted = append(f.deleted, branch)
	return nil
}

func (f *fakePublisher) OpenPullRequest(_ context.Context, pr PullRequest) (PullRequestResult, error) {
	f.prs = append(f.prs, pr)
	if f.openPRFn != nil {
		return f.openPRFn(pr)
	}
	return PullRequestResult{Number: 12, URL: "https://github.com/o/r/pull/12"}, nil
}

func validRequest(changes catalog.Diff) Request {
	return Request{
		Changes:       changes,
		BranchName:    "update-42",
		CommitMessage: "Update 42",
		PRTitle:       "Update 42",
	}
}

func TestSubmitValidatesBeforeAnyNetworkCall(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty ledger", validRequest(nil), "changes"},
		{"items without fields", validRequest(catalog.Diff{"42": {}, "7": nil}), "changes"},
		{"blank branch", Request{Changes: catalog.Diff{"42": {"real_title": "x"}}, BranchName: "  ", CommitMessage: "m", PRTitle: "t"}, "branchName"},
		{"bad branch", Request{Changes: catalog.Diff{"42": {"real_title": "x"}}, BranchName: "a..b", CommitMessage: "m", PRTitle: "t"}, "branchName"},
		{"blank message", Request{Changes: catalog.Diff{"42": {"real_title": "x"}}, BranchName: "b", PRTitle: "t"}, "commitMessage"},
		{"blank title", Request{Changes: catalog.Diff{"42": {"real_title": "x"}}, BranchName: "b", CommitMessage: "m"}, "prTitle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{}
			publisher := &fakePublisher{}
			flow := NewFlow(source, publisher, "main")

			_, err := flow.Submit(context.Background(), tt.req)
			var validationErr *catalog.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", validationErr.Field, tt.field)
			}
			if source.calls.Load() != 0 || publisher.calls() != 0 {
				t.Fatal("expected no network calls")
			}
		})
	}
}

func TestSubmitNoOpWhenRemoteAlreadyMatches(t *testing.T) {
	source := &fakeSource{}
	publisher := &fakePublisher{}
	flow := NewFlow(source, publisher, "main")

	_, err := flow.Submit(context.Background(), validRequest(catalog.Diff{
		"42": {"real_genre": "Horror"},
		"7":  {"processed": false},
	}))
	var noOp *catalog.NoOpError
	if !errors.As(err, &noOp) {
		t.Fatalf("Submit() error = %v, want NoOpError", err)
	}
	if source.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", source.calls.Load())
	}
	if publisher.calls() != 0 {
		t.Fatalf("publisher calls = %d, want 0", publisher.calls())
	}
}

func TestSubmitAppliesOnlyDifferingFields(t *testing.T) {
	source := &fakeSource{}
	publisher := &fakePublisher{}
	flow := NewFlow(source, publisher, "main")

	result, err := flow.Submit(context.Background(), validRequest(catalog.Diff{
		"42":      {"real_title": "New", "real_genre": "Horror"},
		"7":       {"processed": true},
		"deleted": {"real_title": "Gone"},
	}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.ChangesCount != 2 || result.FieldsChanged != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "deleted" {
		t.Fatalf("skipped = %v", result.Skipped)
	}
	if result.PRNumber != 12 || result.Branch != "update-42" {
		t.Fatalf("result = %+v", result)
	}
	if result.DataHash != catalog.HashBytes([]byte(freshDoc)) {
		t.Fatalf("data hash = %s", result.DataHash)
	}
	if publisher.branches[0] != "update-42<-main" {
		t.Fatalf("branch = %v", publisher.branches)
	}

	committed, err := catalog.ParseSnapshot(publisher.commits[0])
	if err != nil {
		t.Fatalf("ParseSnapshot(commit) error = %v", err)
	}
	item, _ := committed.Item("42")
	if item.Text(catalog.FieldRealTitle) != "New" || item.Text(catalog.FieldRealGenre) != "Horror" {
		t.Fatalf("committed item = %v", item)
	}
	if committed.Has("deleted") {
		t.Fatal("skipped item must not be written")
	}
	if !strings.HasPrefix(string(publisher.commits[0]), "{\n  \"42\": {\n    \"title\"") {
		t.Fatalf("commit is not 2-space indented:\n%s", publisher.commits[0])
	}

	body := publisher.prs[0].Body
	for _, want := range []string{
		"This PR updates the audiolibri data with new changes.",
		"### Modified Items:",
		"- **New** - Title updated",
		"- **Upload 7** - Processed status updated",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("PR body missing %q:\n%s", want, body)
		}
	}
}

func TestSubmitUsesUserDescription(t *testing.T) {
	publisher := &fakePublisher{}
	flow := NewFlow(&fakeSource{}, publisher, "main")
	req := validRequest(catalog.Diff{"7": {"real_author": "Calvino", "custom": 1}})
	req.PRDescription = "  Fix authors  "
	if _, err := flow.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	body := publisher.prs[0].Body
	if !strings.HasPrefix(body, "Fix authors\n\n### Modified Items:") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(body, "- **Upload 7** - Author, custom updated") {
		t.Fatalf("body = %q", body)
	}
}

func TestSubmitWithAdditions(t *testing.T) {
	publisher := &fakePublisher{}
	flow := NewFlow(&fakeSource{}, publisher, "main")
	item := catalog.NewItem()
	item.Set(catalog.FieldTitle, "Imported")
	req := validRequest(nil)
	req.Additions = map[string]*catalog.Item{"new-1": item}

	result, err := flow.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.ItemsAdded != 1 || result.ChangesCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(publisher.prs[0].Body, "- **Imported** - Added") {
		t.Fatalf("body = %q", publisher.prs[0].Body)
	}
}

func TestSubmitErrorsKeepUpstreamStatus(t *testing.T) {
	publisher := &fakePublisher{
		createBranchFn: func(string, string) error {
			return &catalog.SubmitError{Status: http.StatusUnprocessableEntity}
		},
	}
	flow := NewFlow(&fakeSource{}, publisher, "main")
	_, err := flow.Submit(context.Background(), validRequest(catalog.Diff{"42": {"real_title": "New"}}))
	var submitErr *catalog.SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("Submit() error = %v, want SubmitError", err)
	}
	if submitErr.Status != http.StatusUnprocessableEntity || submitErr.Op != "create branch" {
		t.Fatalf("submit error = %+v", submitErr)
	}
	if len(publisher.commits) != 0 || len(publisher.prs) != 0 {
		t.Fatal("expected flow to stop after failed branch creation")
	}

	failing := &fakeSource{fetchFn: func(context.Context) (catalog.Document, error) {
		return catalog.Document{}, errors.New("connection refused")
	}}
	_, err = NewFlow(failing, &fakePublisher{}, "main").Submit(context.Background(), validRequest(catalog.Diff{"42": {"real_title": "New"}}))
	var fetchErr *catalog.RemoteFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Submit() error = %v, want RemoteFetchError", err)
	}
}

func TestSubmitDeletesBranchAfterLaterFailure(t *testing.T) {
	req := validRequest(catalog.Diff{"42": {"real_title": "New"}})

	commitFails := &fakePublisher{commitFn: func(string) error {
		return &catalog.SubmitError{Status: http.StatusConflict}
	}}
	_, err := NewFlow(&fakeSource{}, commitFails, "main").Submit(context.Background(), req)
	var submitErr *catalog.SubmitError
	if !errors.As(err, &submitErr) || submitErr.Op != "commit catalog" {
		t.Fatalf("Submit() error = %v, want commit SubmitError", err)
	}
	if len(commitFails.deleted) != 1 || commitFails.deleted[0] != "update-42" {
		t.Fatalf("deleted = %v", commitFails.deleted)
	}

	prFails := &fakePublisher{openPRFn: func(PullRequest) (PullRequestResult, error) {
		return PullRequestResult{}, &catalog.SubmitError{Status: http.StatusForbidden}
	}}
	_, err = NewFlow(&fakeSource{}, prFails, "main").Submit(context.Background(), req)
	if !errors.As(err, &submitErr) || submitErr.Op != "open pull request" || submitErr.Status != http.StatusForbidden {
		t.Fatalf("Submit() error = %v, want PR SubmitError", err)
	}
	if len(prFails.deleted) != 1 {
		t.Fatalf("deleted = %v", prFails.deleted)
	}

	branchFails := &fakePublisher{createBranchFn: func(string, string) error {
		return &catalog.SubmitError{Status: http.StatusUnprocessableEntity}
	}}
	NewFlow(&fakeSource{}, branchFails, "main").Submit(context.Background(), req)
	if len(branchFails.deleted) != 0 {
		t.Fatal("a branch that was never created must not be deleted")
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	source := &fakeSource{fetchFn: func(context.Context) (catalog.Document, error) {
		close(entered)
		<-release
		return catalog.ParseDocument([]byte(freshDoc))
	}}
	flow := NewFlow(source, &fakePublisher{}, "main")
	req := validRequest(catalog.Diff{"42": {"real_title": "New"}})

	done := make(chan error, 1)
	go func() {
		_, err := flow.Submit(context.Background(), req)
		done <- err
	}()
	<-entered
	if !flow.Busy() {
		t.Fatal("expected flow to be busy")
	}
	if _, err := flow.Submit(context.Background(), req); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("second Submit() error = %v, want ErrSubmissionInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if flow.Busy() {
		t.Fatal("expected guard released")
	}
}

func TestSaveRequestMetadata(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	req := SaveRequest(catalog.Diff{"1": {"a": 1, "b": 2}, "2": {"a": 3}}, now)
	if req.BranchName != "json-editor-update-1700000000123" {
		t.Fatalf("branch = %s", req.BranchName)
	}
	if req.CommitMessage != "Update audiolibri data via JSON Editor (2 items modified)" {
		t.Fatalf("commit message = %s", req.CommitMessage)
	}
	if req.PRTitle != "Aggiorna dati audiolibri via Editor JSON (2 elementi)" {
		t.Fatalf("title = %s", req.PRTitle)
	}
	if !strings.Contains(req.PRDescription, "3 campi totali modificati") {
		t.Fatalf("description = %s", req.PRDescription)
	}
	if err := Validate(req); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestObserverSeesOutcome(t *testing.T) {
	var outcomes []string
	flow := NewFlow(&fakeSource{}, &fakePublisher{}, "main")
	flow.SetObserver(func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) })
	flow.Submit(context.Background(), validRequest(catalog.Diff{"42": {"real_genre": "Horror"}}))
	flow.Submit(context.Background(), validRequest(catalog.Diff{"42": {"real_genre": "Noir"}}))
	if strings.Join(outcomes, ",") != "noop,success" {
		t.Fatalf("outcomes = %v", outcomes)
	}
}
