package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/reconcile"
)

const baseline = `{
  "42": {
    "title": "Upload 42",
    "real_title": "Old"
  }
}
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := New(Config{BaseDir: t.TempDir(), Name: "audiolibri"})
	if err := svc.EnsureRepo([]byte(baseline)); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	return svc
}

func TestCatalogRepoLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := os.Stat(filepath.Join(svc.baseDir, "audiolibri", "augmented.json")); err != nil {
		t.Fatalf("catalog file missing: %v", err)
	}
	if err := svc.EnsureRepo([]byte("{}")); err != nil {
		t.Fatalf("EnsureRepo() second call error = %v", err)
	}

	doc, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(doc.Raw) != baseline {
		t.Fatalf("Fetch() raw = %q", doc.Raw)
	}

	if err := svc.CreateBranch(ctx, "update-42", "main"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	updated := strings.Replace(baseline, `"Old"`, `"New"`, 1)
	if err := svc.CommitDocument(ctx, "update-42", "Update 42", []byte(updated)); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}

	doc, err = svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(doc.Raw) != baseline {
		t.Fatal("branch commit must not change the base branch")
	}

	pr, err := svc.OpenPullRequest(ctx, reconcile.PullRequest{Head: "update-42", Base: "main", Title: "Update 42", Body: "body"})
	if err != nil {
		t.Fatalf("OpenPullRequest() error = %v", err)
	}
	if pr.Number != 1 || !strings.HasSuffix(pr.URL, "/pulls/1") {
		t.Fatalf("pr = %+v", pr)
	}

	history, err := svc.History("update-42", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || !strings.HasPrefix(history[0].Message, "Update 42") {
		t.Fatalf("history = %+v", history)
	}

	merge, err := svc.MergePullRequest(1, "Reviewer")
	if err != nil {
		t.Fatalf("MergePullRequest() error = %v", err)
	}
	if merge.Author != "Reviewer" {
		t.Fatalf("merge commit = %+v", merge)
	}
	doc, err = svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(doc.Raw) != updated {
		t.Fatalf("merged raw = %q", doc.Raw)
	}

	pulls, err := svc.PullRequests()
	if err != nil {
		t.Fatalf("PullRequests() error = %v", err)
	}
	if len(pulls) != 1 || pulls[0].State != "merged" || pulls[0].MergeHash != merge.Hash {
		t.Fatalf("pulls = %+v", pulls)
	}
	if _, err := svc.MergePullRequest(1, "Reviewer"); err == nil {
		t.Fatal("expected merging twice to fail")
	}
}

func TestCreateBranchRejectsExistingName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.CreateBranch(ctx, "dup", "main"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	err := svc.CreateBranch(ctx, "dup", "main")
	var submitErr *catalog.SubmitError
	if !errors.As(err, &submitErr) || submitErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("CreateBranch() error = %v, want 422 SubmitError", err)
	}

	err = svc.CreateBranch(ctx, "other", "missing-base")
	if !errors.As(err, &submitErr) || submitErr.Status != http.StatusNotFound {
		t.Fatalf("CreateBranch() error = %v, want 404 SubmitError", err)
	}
}

func TestDeleteBranch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.CreateBranch(ctx, "failed", "main"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	if err := svc.DeleteBranch(ctx, "failed"); err != nil {
		t.Fatalf("DeleteBranch() error = %v", err)
	}
	if err := svc.CreateBranch(ctx, "failed", "main"); err != nil {
		t.Fatalf("CreateBranch() after delete error = %v", err)
	}

	var submitErr *catalog.SubmitError
	if err := svc.DeleteBranch(ctx, "main"); !errors.As(err, &submitErr) || submitErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("DeleteBranch(main) error = %v, want 422", err)
	}
	if err := svc.DeleteBranch(ctx, "missing"); !errors.As(err, &submitErr) || submitErr.Status != http.StatusNotFound {
		t.Fatalf("DeleteBranch(missing) error = %v, want 404", err)
	}
}

func TestFetchMissingRepoIsRemoteFetchError(t *testing.T) {
	svc := New(Config{BaseDir: t.TempDir()})
	_, err := svc.Fetch(context.Background())
	var fetchErr *catalog.RemoteFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error = %v, want RemoteFetchError", err)
	}
}

func TestSubmitFlowAgainstLocalRepo(t *testing.T) {
	svc := newTestService(t)
	flow := reconcile.NewFlow(svc, svc, "main")

	result, err := flow.Submit(context.Background(), reconcile.Request{
		Changes:       catalog.Diff{"42": {"real_title": "New", "real_genre": "Fantasy"}},
		BranchName:    "edit-42",
		CommitMessage: "Edit 42",
		PRTitle:       "Edit 42",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result.PRNumber != 1 || result.ChangesCount != 1 || result.FieldsChanged != 2 {
		t.Fatalf("result = %+v", result)
	}

	if _, err := svc.MergePullRequest(result.PRNumber, "Reviewer"); err != nil {
		t.Fatalf("MergePullRequest() error = %v", err)
	}
	doc, err := svc.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	item, _ := doc.Snapshot.Item("42")
	if item.Text(catalog.FieldRealTitle) != "New" || item.Text(catalog.FieldRealGenre) != "Fantasy" {
		t.Fatalf("merged item = %v", item)
	}

	_, err = flow.Submit(context.Background(), reconcile.Request{
		Changes:       catalog.Diff{"42": {"real_title": "New"}},
		BranchName:    "edit-42-again",
		CommitMessage: "Edit 42",
		PRTitle:       "Edit 42",
	})
	var noOp *catalog.NoOpError
	if !errors.As(err, &noOp) {
		t.Fatalf("Submit() error = %v, want NoOpError after merge", err)
	}
}

func TestConcurrentCommitsSameBranch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.CreateBranch(ctx, "bulk", "main"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := strings.Replace(baseline, `"Old"`, fmt.Sprintf(`"title-%02d"`, idx), 1)
			if err := svc.CommitDocument(ctx, "bulk", fmt.Sprintf("Commit %02d", idx), []byte(content)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("CommitDocument() concurrent error = %v", err)
	}

	history, err := svc.History("bulk", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits, got %d", writers+1, len(history))
	}
}
