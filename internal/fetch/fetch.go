// Package fetch retrieves manifests, Thing Models, and application source over
// HTTP, cache-first, and enforces the integrity and version invariants the
// registration and adaptation flows depend on.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/wot"
)

// Error wraps a transport failure or a non-success HTTP status for one URL.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IntegrityError reports a content-hash mismatch. It aborts the enclosing
// adaptation run the same way a transport error does.
type IntegrityError struct {
	URL      string
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected sha256 %s, computed %s",
		e.URL, e.Expected, e.Computed)
}

// VersionMismatchError reports a Thing Model whose declared version differs
// from what the manifest expects. Fatal to the registration attempt.
type VersionMismatchError struct {
	Href     string
	Expected string
	Actual   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("thing model %s version mismatch: expected %q, got %q",
		e.Href, e.Expected, e.Actual)
}

// AppFile is one successfully fetched and verified download item, holding the
// canonical byte encoding used for hashing and for the eventual VFS write.
type AppFile struct {
	Name    string
	URL     string
	Content []byte
}

// Fetcher performs cache-first HTTP fetches.
type Fetcher struct {
	client *http.Client
	cache  *cache.Cache
}

// New creates a Fetcher over the shared entity cache.
func New(c *cache.Cache, timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  c,
	}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	return body, nil
}

// Manifest returns the manifest at url, fetching and schema-validating it on a
// cache miss.
func (f *Fetcher) Manifest(ctx context.Context, url string) (*manifest.Manifest, error) {
	if m, ok := f.cache.GetManifest(url); ok {
		return m, nil
	}

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(body)
	if err != nil {
		return nil, err
	}

	f.cache.PutManifest(url, m)
	return m, nil
}

// ThingModel returns the model referenced by the manifest, fetching it on a
// cache miss, and verifies its declared version against the manifest's
// expectation. Returns the model and the title it is cached under.
func (f *Fetcher) ThingModel(ctx context.Context, ref manifest.TMRef) (*wot.ThingModel, string, error) {
	tm, cached := f.cache.GetModel(ref.Href)
	if !cached {
		body, err := f.get(ctx, ref.Href)
		if err != nil {
			return nil, "", err
		}
		tm, err = wot.ParseThingModel(body)
		if err != nil {
			return nil, "", err
		}
	}

	if tm.Version.Model == "" {
		return nil, "", fmt.Errorf("thing model %s declares no version", ref.Href)
	}
	if tm.Version.Model != ref.Version.Model {
		return nil, "", &VersionMismatchError{
			Href:     ref.Href,
			Expected: ref.Version.Model,
			Actual:   tm.Version.Model,
		}
	}

	title := ref.Title
	if title == "" {
		title = tm.Title
	}
	if title == "" {
		return nil, "", fmt.Errorf("thing model %s has no title", ref.Href)
	}

	if !cached {
		f.cache.PutModel(tm, title, ref.Href)
	}
	return tm, title, nil
}

// AppSource fetches every download item concurrently, decodes each per its
// declared content kind, and verifies declared hashes. If any file fails,
// transport or integrity, the whole fetch fails and no partial result is
// returned.
func (f *Fetcher) AppSource(ctx context.Context, items []manifest.DownloadItem) ([]AppFile, error) {
	files := make([]AppFile, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item manifest.DownloadItem) {
			defer wg.Done()
			content, err := f.appFile(ctx, item)
			if err != nil {
				errs[i] = err
				return
			}
			files[i] = AppFile{Name: item.Name, URL: item.URL, Content: content}
		}(i, item)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return files, nil
}

func (f *Fetcher) appFile(ctx context.Context, item manifest.DownloadItem) ([]byte, error) {
	if content, ok := f.cache.GetAppContent(item.URL); ok {
		return content, nil
	}

	body, err := f.get(ctx, item.URL)
	if err != nil {
		return nil, err
	}

	content, err := canonicalize(item, body)
	if err != nil {
		return nil, err
	}

	if item.SHA256 != "" {
		sum := sha256.Sum256(content)
		computed := hex.EncodeToString(sum[:])
		if !strings.EqualFold(computed, item.SHA256) {
			return nil, &IntegrityError{URL: item.URL, Expected: strings.ToLower(item.SHA256), Computed: computed}
		}
	}

	// Only verified content enters the cache.
	f.cache.PutAppContent(item.URL, content)
	return content, nil
}

// canonicalize produces the byte encoding hashes are computed over: JSON is
// re-serialized compactly, text and binary pass through.
func canonicalize(item manifest.DownloadItem, body []byte) ([]byte, error) {
	switch item.Kind() {
	case manifest.ContentJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, &Error{URL: item.URL, Err: fmt.Errorf("body is not valid JSON: %w", err)}
		}
		return json.Marshal(v)
	case manifest.ContentText, manifest.ContentBinary:
		return body, nil
	}
	return nil, &Error{URL: item.URL, Err: fmt.Errorf("unsupported content type %q", item.ContentType)}
}
