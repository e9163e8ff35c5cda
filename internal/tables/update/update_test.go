package update

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehrguard/mehrguard/internal/tables"
)

func manifestJSON(t *testing.T, version int) []byte {
	t.Helper()
	var m tables.Manifest
	require.NoError(t, json.Unmarshal(tables.DefaultManifestJSON(), &m))
	m.Version = version
	data, err := json.Marshal(&m)
	require.NoError(t, err)
	return data
}

type recordingPersister struct {
	mu       sync.Mutex
	versions []int
}

func (p *recordingPersister) Save(_ context.Context, snap *tables.Snapshot, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions = append(p.versions, snap.Version)
	return nil
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateIdle.CanTransition(StateChecking))
	assert.True(t, StateChecking.CanTransition(StateNoUpdateNeeded))
	assert.True(t, StateDownloading.CanTransition(StateSuccess))
	assert.True(t, StateError.CanTransition(StateChecking))
	assert.False(t, StateIdle.CanTransition(StateSuccess))
	assert.False(t, StateChecking.CanTransition(StateSuccess))
	assert.False(t, StateSuccess.CanTransition(StateDownloading))

	assert.True(t, StateSuccess.Terminal())
	assert.False(t, StateDownloading.Terminal())

	err := &TransitionError{From: StateIdle, To: StateSuccess}
	assert.Contains(t, err.Error(), "idle -> success")
}

func TestFileSourceSuccessThenNotModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, manifestJSON(t, 5), 0o644))

	store := tables.NewStore(nil)
	p := &recordingPersister{}
	var seen []State
	u := New(store, NewFileSource(path), Options{
		Persister:    p,
		OnTransition: func(_, to State) { seen = append(seen, to) },
	})
	assert.Equal(t, StateIdle, u.Status().State)

	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, 5, st.ActiveVersion)
	assert.Equal(t, 5, store.Current().Version)
	assert.Equal(t, int64(1), st.Updates)
	assert.NotEmpty(t, st.AttemptID)
	assert.Equal(t, []int{5}, p.versions)
	assert.Equal(t, []State{StateChecking, StateDownloading, StateSuccess}, seen)

	st, err = u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)
	assert.Equal(t, int64(2), st.Checks)
}

func TestOlderVersionIsNotApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, manifestJSON(t, 1), 0o644))

	store := tables.NewStore(nil)
	before := store.Current()
	u := New(store, NewFileSource(path), Options{})

	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)
	assert.Same(t, before, store.Current())

	u = New(store, NewFileSource(path), Options{AllowDowngrade: true})
	st, err = u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.NotSame(t, before, store.Current())
}

// racingSource lets another writer activate newer tables while the
// download is in flight.
type racingSource struct {
	raw    []byte
	during func()
}

func (s *racingSource) Name() string { return "racing" }

func (s *racingSource) Check(context.Context) (Offer, error) {
	return Offer{Available: true}, nil
}

func (s *racingSource) Download(context.Context, Offer) ([]byte, error) {
	s.during()
	return s.raw, nil
}

func TestConcurrentNewerSwapIsNotRolledBack(t *testing.T) {
	store := tables.NewStore(nil)
	newer, err := tables.Load(manifestJSON(t, 500), "api")
	require.NoError(t, err)

	src := &racingSource{
		raw: manifestJSON(t, 300),
		during: func() {
			_, err := store.Swap(newer)
			require.NoError(t, err)
		},
	}
	persister := &recordingPersister{}
	u := New(store, src, Options{Persister: persister})

	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)
	assert.Same(t, newer, store.Current())
	assert.Empty(t, persister.versions)
}

func TestIdenticalDigestIsNotReapplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, tables.DefaultManifestJSON(), 0o644))

	store := tables.NewStore(nil)
	before := store.Current()
	u := New(store, NewFileSource(path), Options{AllowDowngrade: true})
	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)
	assert.Same(t, before, store.Current())
}

func TestInvalidManifestKeepsActiveTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 9, "brand_db": {"brands": []}}`), 0o644))

	store := tables.NewStore(nil)
	before := store.Current()
	u := New(store, NewFileSource(path), Options{})

	st, err := u.CheckNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, tables.ErrInvalidManifest)
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, int64(1), st.Failures)
	assert.NotEmpty(t, st.LastError)
	assert.Same(t, before, store.Current())

	require.NoError(t, os.WriteFile(path, manifestJSON(t, 9), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))
	st, err = u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Empty(t, st.LastError)
}

func TestMissingFileIsError(t *testing.T) {
	u := New(tables.NewStore(nil), NewFileSource(filepath.Join(t.TempDir(), "absent.json")), Options{})
	st, err := u.CheckNow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, StateError, st.State)
}

func TestOversizeFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(" ", tables.MaxManifestSize+1)), 0o644))
	u := New(tables.NewStore(nil), NewFileSource(path), Options{})
	_, err := u.CheckNow(context.Background())
	assert.ErrorIs(t, err, tables.ErrManifestTooLarge)
}

func TestHTTPSourceConditionalRequests(t *testing.T) {
	body := manifestJSON(t, 3)
	var gets, heads int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("If-None-Match") == `"v3"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v3"`)
		w.Header().Set(VersionHeader, "3")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			heads++
			return
		}
		gets++
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	store := tables.NewStore(nil)
	u := New(store, NewHTTPSource(srv.URL+"/secret/tables.json", srv.Client()), Options{})
	assert.Equal(t, srv.URL, u.Status().Source)

	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, 3, store.Current().Version)
	assert.Equal(t, 3, st.OfferedVersion)

	st, err = u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, heads)
}

func TestHTTPSourceAdvertisedOldVersionSkipsDownload(t *testing.T) {
	var gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(VersionHeader, "1")
		if r.Method == http.MethodGet {
			gets++
		}
	}))
	defer srv.Close()

	u := New(tables.NewStore(nil), NewHTTPSource(srv.URL, srv.Client()), Options{})
	st, err := u.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoUpdateNeeded, st.State)
	assert.Zero(t, gets)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := New(tables.NewStore(nil), NewHTTPSource(srv.URL, srv.Client()), Options{})
	st, err := u.CheckNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Equal(t, StateError, st.State)
}

func TestHTTPSourceTruncatesOversizeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(strings.Repeat(" ", tables.MaxManifestSize+10)))
	}))
	defer srv.Close()

	_, err := New(tables.NewStore(nil), NewHTTPSource(srv.URL, srv.Client()), Options{}).CheckNow(context.Background())
	assert.ErrorIs(t, err, tables.ErrManifestTooLarge)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Check(ctx context.Context) (Offer, error) {
	close(b.entered)
	<-b.release
	return Offer{}, nil
}

func (b *blockingSource) Download(context.Context, Offer) ([]byte, error) { return nil, nil }

func TestConcurrentCheckIsBusy(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	u := New(tables.NewStore(nil), src, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = u.CheckNow(context.Background())
	}()
	<-src.entered
	st, err := u.CheckNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, StateChecking, st.State)
	close(src.release)
	<-done
	assert.Equal(t, StateNoUpdateNeeded, u.Status().State)
}

func TestSanitizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com", sanitizeURL("https://example.com/path?token=abc"))
	assert.Equal(t, "<invalid-url>", sanitizeURL("://bad"))
}

func TestWatcherAppliesRewrittenManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.json")

	store := tables.NewStore(nil)
	u := New(store, NewFileSource(path), Options{})
	changes := make(chan Status, 4)
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		Updater:  u,
		Debounce: 20 * time.Millisecond,
		OnChange: func(_ string, st Status, _ error) { changes <- st },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	tmp := filepath.Join(dir, "tables.json.tmp")
	require.NoError(t, os.WriteFile(tmp, manifestJSON(t, 12), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case st := <-changes:
		assert.Equal(t, StateSuccess, st.State)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	assert.Equal(t, 12, store.Current().Version)
	assert.Equal(t, int64(1), w.Stats().ReloadsSuccess)
}

func TestNewWatcherValidates(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	assert.Error(t, err)
	_, err = NewWatcher(WatcherConfig{Path: "x.json"})
	assert.Error(t, err)
}
