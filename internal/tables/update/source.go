package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mehrguard/mehrguard/internal/tables"
)

// Offer describes what a source has available.
type Offer struct {
	// Available is false when the source knows nothing changed since the
	// last download.
	Available bool
	// Version is the advertised manifest version, or 0 when unknown until
	// download.
	Version int
	Size    int64
	ETag    string
}

// Source supplies manifest bytes.
type Source interface {
	Name() string
	Check(ctx context.Context) (Offer, error)
	Download(ctx context.Context, o Offer) ([]byte, error)
}

// readLimited reads r up to tables.MaxManifestSize. The limit is
// MaxManifestSize+1 so "exactly at limit" and "truncated" can be told apart.
func readLimited(r io.Reader) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: tables.MaxManifestSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if lr.N == 0 {
		return nil, tables.ErrManifestTooLarge
	}
	return data, nil
}

// FileSource reads a manifest from a local path. A file whose size and
// modification time are unchanged since the last download is not offered
// again.
type FileSource struct {
	path string

	mu      sync.Mutex
	size    int64
	modTime time.Time
}

// NewFileSource returns a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file:" + f.path }

func (f *FileSource) Check(ctx context.Context) (Offer, error) {
	if err := ctx.Err(); err != nil {
		return Offer{}, err
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return Offer{}, err
	}
	if info.IsDir() {
		return Offer{}, fmt.Errorf("%s is a directory", f.path)
	}
	if info.Size() > tables.MaxManifestSize {
		return Offer{}, tables.ErrManifestTooLarge
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if info.Size() == f.size && info.ModTime().Equal(f.modTime) {
		return Offer{Size: info.Size()}, nil
	}
	return Offer{Available: true, Size: info.Size()}, nil
}

func (f *FileSource) Download(ctx context.Context, _ Offer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	data, err := readLimited(fh)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.size, f.modTime = info.Size(), info.ModTime()
	f.mu.Unlock()
	return data, nil
}

// VersionHeader optionally advertises the manifest version on HEAD.
const VersionHeader = "X-Manifest-Version"

// ErrNotModified is returned by Download when the server answers 304.
var ErrNotModified = errors.New("not modified")

// HTTPSource fetches a manifest over HTTP(S) using conditional requests.
type HTTPSource struct {
	url    string
	client *http.Client

	mu   sync.Mutex
	etag string
}

// NewHTTPSource returns a source for rawURL. A nil client gets a 30s
// timeout.
func NewHTTPSource(rawURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{url: rawURL, client: client}
}

func (h *HTTPSource) Name() string { return sanitizeURL(h.url) }

func (h *HTTPSource) Check(ctx context.Context) (Offer, error) {
	resp, err := h.do(ctx, http.MethodHead)
	if errors.Is(err, ErrNotModified) {
		return Offer{}, nil
	}
	if err != nil {
		return Offer{}, err
	}
	resp.Body.Close()
	if resp.ContentLength > tables.MaxManifestSize {
		return Offer{}, tables.ErrManifestTooLarge
	}
	o := Offer{Available: true, Size: resp.ContentLength, ETag: resp.Header.Get("ETag")}
	if v, err := strconv.Atoi(resp.Header.Get(VersionHeader)); err == nil && v > 0 {
		o.Version = v
	}
	return o, nil
}

func (h *HTTPSource) Download(ctx context.Context, _ Offer) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		h.mu.Lock()
		h.etag = etag
		h.mu.Unlock()
	}
	return data, nil
}

func (h *HTTPSource) do(ctx context.Context, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.url, nil)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.etag != "" {
		req.Header.Set("If-None-Match", h.etag)
	}
	h.mu.Unlock()
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotModified:
		resp.Body.Close()
		return nil, ErrNotModified
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

// sanitizeURL strips everything except scheme and host for logging. Paths
// may carry tokens.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host
}
