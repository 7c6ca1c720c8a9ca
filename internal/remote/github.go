package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/reconcile"
)

const defaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	Token         string
	Owner         string
	Repo          string
	FilePath      string
	BaseBranch    string
	APIBase       string
	RatePerMinute int
}

// GitHub publishes catalog changes as a branch, a contents-API commit and a
// pull request. Requests are paced by a token bucket so bursts of auto-saves
// stay under the secondary rate limits.
type GitHub struct {
	owner   string
	repo    string
	path    string
	base    string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
}

func NewGitHub(cfg GitHubConfig) *GitHub {
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	return newGitHub(cfg, client)
}

func newGitHub(cfg GitHubConfig, client *http.Client) *GitHub {
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultGitHubAPI
	}
	path := strings.TrimPrefix(cfg.FilePath, "/")
	if path == "" {
		path = "augmented.json"
	}
	base := cfg.BaseBranch
	if base == "" {
		base = "main"
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return &GitHub{
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		path:    path,
		base:    base,
		apiBase: apiBase,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
	}
}

// Configured reports whether owner and repo are set.
func (g *GitHub) Configured() bool {
	return g.owner != "" && g.repo != ""
}

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type contentFile struct {
	SHA         string `json:"sha"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

type pullResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func (g *GitHub) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(g.owner), url.PathEscape(g.repo)) + fmt.Sprintf(format, args...)
}

func (g *GitHub) CreateBranch(ctx context.Context, branch, base string) error {
	var ref gitRef
	if err := g.do(ctx, http.MethodGet, g.repoPath("/git/ref/heads/%s", base), nil, &ref); err != nil {
		return err
	}
	body := map[string]string{"ref": "refs/heads/" + branch, "sha": ref.Object.SHA}
	return g.do(ctx, http.MethodPost, g.repoPath("/git/refs"), body, nil)
}

// DeleteBranch removes a branch left behind by a failed submission.
func (g *GitHub) DeleteBranch(ctx context.Context, branch string) error {
	return g.do(ctx, http.MethodDelete, g.repoPath("/git/refs/heads/%s", branch), nil, nil)
}

func (g *GitHub) CommitDocument(ctx context.Context, branch, message string, content []byte) error {
	var current contentFile
	if err := g.do(ctx, http.MethodGet, g.contentsPath(branch), nil, &current); err != nil {
		return err
	}
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"sha":     current.SHA,
		"branch":  branch,
	}
	return g.do(ctx, http.MethodPut, g.contentsPath(""), body, nil)
}

func (g *GitHub) OpenPullRequest(ctx context.Context, pr reconcile.PullRequest) (reconcile.PullRequestResult, error) {
	var created pullResponse
	body := map[string]string{"title": pr.Title, "body": pr.Body, "head": pr.Head, "base": pr.Base}
	if err := g.do(ctx, http.MethodPost, g.repoPath("/pulls"), body, &created); err != nil {
		return reconcile.PullRequestResult{}, err
	}
	return reconcile.PullRequestResult{Number: created.Number, URL: created.HTMLURL}, nil
}

// Fetch reads the catalog file from the base branch through the contents
// API, authenticated, so private repositories work. Files over 1 MB come
// back without inline content and are read from their download URL.
func (g *GitHub) Fetch(ctx context.Context) (catalog.Document, error) {
	var file contentFile
	if err := g.do(ctx, http.MethodGet, g.contentsPath(g.base), nil, &file); err != nil {
		return catalog.Document{}, asFetchError(g.apiBase+g.contentsPath(g.base), err)
	}

	var raw []byte
	switch {
	case file.Content != "" && file.Encoding == "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return catalog.Document{}, &catalog.RemoteFetchError{URL: g.path, Err: fmt.Errorf("decode content: %w", err)}
		}
		raw = decoded
	case file.Content != "" && file.Encoding == "":
		raw = []byte(file.Content)
	case file.DownloadURL != "":
		if err := g.limiter.Wait(ctx); err != nil {
			return catalog.Document{}, &catalog.RemoteFetchError{URL: file.DownloadURL, Err: err}
		}
		return NewHTTPSource(file.DownloadURL, g.client).Fetch(ctx)
	default:
		return catalog.Document{}, &catalog.RemoteFetchError{URL: g.path, Err: fmt.Errorf("contents API returned no content (encoding %q)", file.Encoding)}
	}
	doc, err := catalog.ParseDocument(raw)
	if err != nil {
		return catalog.Document{}, &catalog.RemoteFetchError{URL: g.path, Err: err}
	}
	return doc, nil
}

func (g *GitHub) contentsPath(ref string) string {
	path := g.repoPath("/contents/%s", g.path)
	if ref != "" {
		path += "?ref=" + url.QueryEscape(ref)
	}
	return path
}

func asFetchError(u string, err error) error {
	if submitErr, ok := err.(*catalog.SubmitError); ok {
		return &catalog.RemoteFetchError{URL: u, Status: submitErr.Status, Err: submitErr.Err}
	}
	return &catalog.RemoteFetchError{URL: u, Err: err}
}

type apiError struct {
	Message string `json:"message"`
}

// do issues one API call. Non-2xx answers become a SubmitError carrying the
// status so the caller can show the matching message.
func (g *GitHub) do(ctx context.Context, method, path string, body any, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &catalog.SubmitError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, reader)
	if err != nil {
		return &catalog.SubmitError{Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &catalog.SubmitError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		if payload.Message == "" {
			payload.Message = resp.Status
		}
		return &catalog.SubmitError{Status: resp.StatusCode, Err: fmt.Errorf("github %s %s: %s", method, path, payload.Message)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &catalog.SubmitError{Status: resp.StatusCode, Err: fmt.Errorf("decode %s %s: %w", method, path, err)}
	}
	return nil
}
