package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/gofrs/flock"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/reconcile"
)

type Config struct {
	BaseDir    string
	Name       string
	FilePath   string
	BaseBranch string
	Author     string
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// PullRequestRecord is a pull request opened against the local repository.
type PullRequestRecord struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Head      string     `json:"head"`
	Base      string     `json:"base"`
	URL       string     `json:"url"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	MergedAt  *time.Time `json:"mergedAt,omitempty"`
	MergeHash string     `json:"mergeHash,omitempty"`
}

// Service is a local stand-in for the hosted catalog repository. It keeps
// the catalog file in a go-git repository and records pull requests next to
// it, so the submit flow can run without GitHub. Writers are serialized by
// an in-process mutex and a file lock shared with other processes.
type Service struct {
	baseDir    string
	name       string
	filePath   string
	baseBranch string
	author     string

	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

func New(cfg Config) *Service {
	name := cfg.Name
	if name == "" {
		name = "catalog"
	}
	filePath := cfg.FilePath
	if filePath == "" {
		filePath = "augmented.json"
	}
	baseBranch := cfg.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}
	author := cfg.Author
	if author == "" {
		author = "Audiolibri Editor"
	}
	return &Service{
		baseDir:    cfg.BaseDir,
		name:       name,
		filePath:   filePath,
		baseBranch: baseBranch,
		author:     author,
		lock:       flock.New(filepath.Join(cfg.BaseDir, name+".lock")),
		now:        time.Now,
	}
}

func (s *Service) repoPath() string {
	return filepath.Join(s.baseDir, s.name)
}

func (s *Service) pullsPath() string {
	return filepath.Join(s.repoPath(), ".git", "pulls.json")
}

func (s *Service) URL() string {
	return "file://" + filepath.ToSlash(s.repoPath())
}

// withLock runs fn holding both the in-process mutex and the file lock.
func (s *Service) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire repo lock: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()
	return fn()
}

// EnsureRepo initializes the repository with initial as the first commit on
// the base branch. An existing repository is left untouched.
func (s *Service) EnsureRepo(initial []byte) error {
	return s.withLock(func() error {
		path := s.repoPath()
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat repo path: %w", err)
		}

		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create repo dir: %w", err)
		}
		repo, err := git.PlainInit(path, false)
		if err != nil {
			return fmt.Errorf("init repo: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(s.baseBranch))); err != nil {
			return fmt.Errorf("set HEAD to %s: %w", s.baseBranch, err)
		}
		hash, err := s.commitFile(repo, initial, "Import catalog baseline")
		if err != nil {
			return err
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(s.baseBranch), hash)); err != nil {
			return fmt.Errorf("set %s branch ref: %w", s.baseBranch, err)
		}
		return nil
	})
}

// Fetch reads the catalog file at the tip of the base branch.
func (s *Service) Fetch(ctx context.Context) (catalog.Document, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Document{}, &catalog.RemoteFetchError{URL: s.URL(), Err: err}
	}
	var raw []byte
	err := s.withLock(func() error {
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		commitObj, err := branchCommit(repo, s.baseBranch)
		if err != nil {
			return err
		}
		raw, err = readFileFromCommit(commitObj, s.filePath)
		return err
	})
	if err != nil {
		return catalog.Document{}, &catalog.RemoteFetchError{URL: s.URL(), Err: err}
	}
	doc, err := catalog.ParseDocument(raw)
	if err != nil {
		return catalog.Document{}, &catalog.RemoteFetchError{URL: s.URL(), Err: err}
	}
	return doc, nil
}

// CreateBranch points a new branch at the tip of base. Like the hosted API
// it refuses to reuse an existing branch name.
func (s *Service) CreateBranch(ctx context.Context, branch, base string) error {
	if err := ctx.Err(); err != nil {
		return &catalog.SubmitError{Err: err}
	}
	return s.withLock(func() error {
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("open repo: %w", err)}
		}
		branchRefName := plumbing.NewBranchReferenceName(branch)
		if _, err := repo.Reference(branchRefName, true); err == nil {
			return &catalog.SubmitError{Status: http.StatusUnprocessableEntity, Err: fmt.Errorf("branch %s already exists", branch)}
		}
		fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
		if err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("read source branch ref: %w", err)}
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, fromRef.Hash())); err != nil {
			return fmt.Errorf("create branch ref: %w", err)
		}
		return nil
	})
}

// DeleteBranch removes branch. The base branch and branches with an open
// pull request are kept.
func (s *Service) DeleteBranch(ctx context.Context, branch string) error {
	if err := ctx.Err(); err != nil {
		return &catalog.SubmitError{Err: err}
	}
	if branch == s.baseBranch {
		return &catalog.SubmitError{Status: http.StatusUnprocessableEntity, Err: fmt.Errorf("refusing to delete base branch %s", branch)}
	}
	return s.withLock(func() error {
		pulls, err := s.readPulls()
		if err != nil {
			return err
		}
		for _, pr := range pulls {
			if pr.Head == branch && pr.State == "open" {
				return &catalog.SubmitError{Status: http.StatusUnprocessableEntity, Err: fmt.Errorf("branch %s has open pull request #%d", branch, pr.Number)}
			}
		}
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("open repo: %w", err)}
		}
		refName := plumbing.NewBranchReferenceName(branch)
		if _, err := repo.Reference(refName, true); err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("branch %s not found", branch)}
		}
		if err := repo.Storer.RemoveReference(refName); err != nil {
			return fmt.Errorf("delete branch ref: %w", err)
		}
		return nil
	})
}

// CommitDocument replaces the catalog file on branch with content.
func (s *Service) CommitDocument(ctx context.Context, branch, message string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return &catalog.SubmitError{Err: err}
	}
	_, err := s.CommitContent(branch, message, content)
	return err
}

func (s *Service) CommitContent(branch, message string, content []byte) (CommitInfo, error) {
	var info CommitInfo
	err := s.withLock(func() error {
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true); err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("resolve branch %s: %w", branch, err)}
		}
		if err := checkoutBranch(repo, branch); err != nil {
			return err
		}
		hash, err := s.commitFile(repo, content, message)
		if err != nil {
			return err
		}
		commitObj, err := repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("read commit object: %w", err)
		}
		info = toCommitInfo(commitObj)
		return nil
	})
	return info, err
}

// OpenPullRequest records a pull request from pr.Head into pr.Base.
func (s *Service) OpenPullRequest(ctx context.Context, pr reconcile.PullRequest) (reconcile.PullRequestResult, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.PullRequestResult{}, &catalog.SubmitError{Err: err}
	}
	var record PullRequestRecord
	err := s.withLock(func() error {
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return &catalog.SubmitError{Status: http.StatusNotFound, Err: fmt.Errorf("open repo: %w", err)}
		}
		headRef, err := repo.Reference(plumbing.NewBranchReferenceName(pr.Head), true)
		if err != nil {
			return &catalog.SubmitError{Status: http.StatusUnprocessableEntity, Err: fmt.Errorf("resolve head %s: %w", pr.Head, err)}
		}
		pulls, err := s.readPulls()
		if err != nil {
			return err
		}
		for _, existing := range pulls {
			if existing.Head == pr.Head && existing.State == "open" {
				return &catalog.SubmitError{Status: http.StatusUnprocessableEntity, Err: fmt.Errorf("a pull request for %s already exists", pr.Head)}
			}
		}

		number := len(pulls) + 1
		pullRef := plumbing.ReferenceName("refs/pull/" + strconv.Itoa(number) + "/head")
		if err := repo.Storer.SetReference(plumbing.NewHashReference(pullRef, headRef.Hash())); err != nil {
			return fmt.Errorf("create pull ref: %w", err)
		}
		record = PullRequestRecord{
			Number:    number,
			Title:     pr.Title,
			Body:      pr.Body,
			Head:      pr.Head,
			Base:      pr.Base,
			URL:       fmt.Sprintf("%s/pulls/%d", s.URL(), number),
			State:     "open",
			CreatedAt: s.now().UTC(),
		}
		return s.writePulls(append(pulls, record))
	})
	if err != nil {
		return reconcile.PullRequestResult{}, err
	}
	return reconcile.PullRequestResult{Number: record.Number, URL: record.URL}, nil
}

// PullRequests lists recorded pull requests, newest first.
func (s *Service) PullRequests() ([]PullRequestRecord, error) {
	var pulls []PullRequestRecord
	err := s.withLock(func() error {
		var err error
		pulls, err = s.readPulls()
		return err
	})
	sort.Slice(pulls, func(i, j int) bool { return pulls[i].Number > pulls[j].Number })
	return pulls, err
}

// MergePullRequest copies the head branch's catalog file onto the base
// branch as a new commit and marks the pull request merged.
func (s *Service) MergePullRequest(number int, author string) (CommitInfo, error) {
	var info CommitInfo
	err := s.withLock(func() error {
		pulls, err := s.readPulls()
		if err != nil {
			return err
		}
		idx := -1
		for i := range pulls {
			if pulls[i].Number == number {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("pull request %d not found", number)
		}
		pr := pulls[idx]
		if pr.State != "open" {
			return fmt.Errorf("pull request %d is %s", number, pr.State)
		}

		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		source, err := branchCommit(repo, pr.Head)
		if err != nil {
			return err
		}
		content, err := readFileFromCommit(source, s.filePath)
		if err != nil {
			return err
		}
		if err := checkoutBranch(repo, pr.Base); err != nil {
			return err
		}
		message := fmt.Sprintf("Merge pull request #%d from %s\n\n%s\n\nmerge: source=%s target=%s actor=%s mode=copy-commit",
			number, pr.Head, pr.Title, pr.Head, pr.Base, author)
		hash, err := s.commitFileAs(repo, content, message, author, true)
		if err != nil {
			return err
		}
		merged, err := repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("read merge commit object: %w", err)
		}
		info = toCommitInfo(merged)

		mergedAt := s.now().UTC()
		pulls[idx].State = "merged"
		pulls[idx].MergedAt = &mergedAt
		pulls[idx].MergeHash = info.Hash
		return s.writePulls(pulls)
	})
	return info, err
}

// History lists commits reachable from branch, newest first.
func (s *Service) History(branch string, limit int) ([]CommitInfo, error) {
	var items []CommitInfo
	err := s.withLock(func() error {
		repo, err := git.PlainOpen(s.repoPath())
		if err != nil {
			return fmt.Errorf("open repo: %w", err)
		}
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
		if err != nil {
			return fmt.Errorf("resolve branch %s: %w", branch, err)
		}
		iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		defer iter.Close()

		count := 0
		err = iter.ForEach(func(commitObj *object.Commit) error {
			items = append(items, toCommitInfo(commitObj))
			count++
			if limit > 0 && count >= limit {
				return io.EOF
			}
			return nil
		})
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("iterate log: %w", err)
		}
		return nil
	})
	return items, err
}

func (s *Service) readPulls() ([]PullRequestRecord, error) {
	raw, err := os.ReadFile(s.pullsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pull requests: %w", err)
	}
	var pulls []PullRequestRecord
	if err := json.Unmarshal(raw, &pulls); err != nil {
		return nil, fmt.Errorf("decode pull requests: %w", err)
	}
	return pulls, nil
}

func (s *Service) writePulls(pulls []PullRequestRecord) error {
	payload, err := json.MarshalIndent(pulls, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pull requests: %w", err)
	}
	tmp := s.pullsPath() + ".tmp"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write pull requests: %w", err)
	}
	if err := os.Rename(tmp, s.pullsPath()); err != nil {
		return fmt.Errorf("replace pull requests: %w", err)
	}
	return nil
}

func (s *Service) commitFile(repo *git.Repository, content []byte, message string) (plumbing.Hash, error) {
	return s.commitFileAs(repo, content, message, s.author, false)
}

func (s *Service) commitFileAs(repo *git.Repository, content []byte, message, author string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	target := filepath.Join(worktree.Filesystem.Root(), s.filePath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create catalog dir: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", s.filePath, err)
	}
	if _, err := worktree.Add(filepath.ToSlash(s.filePath)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add catalog: %w", err)
	}
	if author == "" {
		author = s.author
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.audiolibri.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit catalog: %w", err)
	}
	return hash, nil
}

func branchCommit(repo *git.Repository, branch string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func checkoutBranch(repo *git.Repository, branch string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch), Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return nil
}

func readFileFromCommit(commitObj *object.Commit, path string) ([]byte, error) {
	file, err := commitObj.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", path, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "editor"
	}
	return string(out)
}
