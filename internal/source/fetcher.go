// Package source reads company pages and seed lists from the directory site,
// from local files, or from memory.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// Fetcher retrieves the raw document behind a URL. Failures are reported as
// *domain.SourceError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcherOptions configures an HTTPFetcher.
type HTTPFetcherOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Client       *http.Client
}

// HTTPFetcher fetches pages over HTTP.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPFetcher creates a fetcher with defaults filled in.
func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "cohortwatch/1.0"
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{client: client, userAgent: ua, maxBodyBytes: maxBody}
}

// Fetch issues a GET. 429, 5xx and transport errors are temporary; any other
// non-2xx status is permanent.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.SourceError{URL: url, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.SourceError{URL: url, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &domain.SourceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Temporary:  temporaryStatus(resp.StatusCode),
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &domain.SourceError{URL: url, StatusCode: resp.StatusCode, Temporary: true, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &domain.SourceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body exceeds %d bytes", f.maxBodyBytes),
		}
	}
	return body, nil
}

func temporaryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// StaticFetcher serves pages from memory. It backs offline crawls and tests.
type StaticFetcher struct {
	mu       sync.RWMutex
	pages    map[string][]byte
	failures map[string]error
}

// NewStaticFetcher creates a fetcher over url -> document pairs.
func NewStaticFetcher(pages map[string][]byte) *StaticFetcher {
	f := &StaticFetcher{pages: make(map[string][]byte), failures: make(map[string]error)}
	for url, page := range pages {
		f.pages[url] = page
	}
	return f
}

// LoadStaticDir reads a directory of saved pages. index.html becomes the
// directory listing at baseURL/companies and <slug>.html becomes the company
// page at baseURL/companies/<slug>.
func LoadStaticDir(dir, baseURL string) (*StaticFetcher, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read offline directory: %w", err)
	}

	base := strings.TrimRight(baseURL, "/")
	f := NewStaticFetcher(nil)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".html") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		slug := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if slug == "index" {
			f.Set(DirectoryURL(base), raw)
			continue
		}
		f.Set(CompanyURL(base, slug), raw)
	}
	return f, nil
}

// Set stores a page.
func (f *StaticFetcher) Set(url string, page []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = page
	delete(f.failures, url)
}

// Fail makes Fetch of url return err.
func (f *StaticFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = err
}

func (f *StaticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, &domain.SourceError{URL: url, StatusCode: http.StatusNotFound, Err: errors.New("page not found")}
	}
	return page, nil
}

// DirectoryURL is the company listing page under baseURL.
func DirectoryURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/companies"
}

// CompanyURL is the page of one company under baseURL.
func CompanyURL(baseURL, externalID string) string {
	return DirectoryURL(baseURL) + "/" + externalID
}
