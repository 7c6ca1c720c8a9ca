// Package remote reads the catalog document over HTTP and publishes changes
// to it through the GitHub REST API.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"audiolibri/api/internal/catalog"
)

const maxDocumentBytes = 256 << 20

// HTTPSource reads the catalog from a fixed URL, normally the raw file on
// the default branch. There is no caching: every Fetch hits the network.
type HTTPSource struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{url: url, client: client, now: time.Now}
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) (catalog.Document, error) {
	raw, err := s.fetchRaw(ctx)
	if err != nil {
		return catalog.Document{}, err
	}
	doc, err := catalog.ParseDocument(raw)
	if err != nil {
		return catalog.Document{}, &catalog.RemoteFetchError{URL: s.url, Err: err}
	}
	return doc, nil
}

// Fingerprint fetches the document and hashes it.
func (s *HTTPSource) Fingerprint(ctx context.Context) (catalog.Fingerprint, error) {
	doc, err := s.Fetch(ctx)
	if err != nil {
		return catalog.Fingerprint{}, err
	}
	return doc.Fingerprint(s.now()), nil
}

func (s *HTTPSource) fetchRaw(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &catalog.RemoteFetchError{URL: s.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &catalog.RemoteFetchError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &catalog.RemoteFetchError{URL: s.url, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, &catalog.RemoteFetchError{URL: s.url, Err: fmt.Errorf("read body: %w", err)}
	}
	return raw, nil
}
