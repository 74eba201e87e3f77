package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 0
	return cfg
}

func newSession(t *testing.T, l *Loader, ua string) *Session {
	t.Helper()
	s, err := l.NewSession(ua)
	require.NoError(t, err)
	return s
}

func TestFetchHTML(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title> Demo </title>
<script>var a = 1;</script>
<script src="/ext.js"></script>
<script type="application/json">{"x":1}</script>
</head><body><p id="p">hi</p><script>var b = 2;</script></body></html>`))
	}))
	defer srv.Close()

	l := New(testConfig())
	doc, err := newSession(t, l, "webviewrpc-test").Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "webviewrpc-test", gotUA)
	assert.Equal(t, KindHTML, doc.Kind)
	assert.Equal(t, http.StatusOK, doc.Status)
	assert.Equal(t, "Demo", doc.Title)
	assert.Equal(t, "utf-8", doc.CharacterSet)
	assert.Equal(t, []string{"var a = 1;", "var b = 2;"}, doc.Scripts)
	require.NotNil(t, doc.HTML)
	assert.Equal(t, "hi", doc.HTML.Find("#p").Text())
}

func TestFetchScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("globalThis.loaded = true;"))
	}))
	defer srv.Close()

	doc, err := newSession(t, New(testConfig()), "").Fetch(context.Background(), srv.URL+"/app.js")
	require.NoError(t, err)
	assert.Equal(t, KindScript, doc.Kind)
	assert.Equal(t, []string{"globalThis.loaded = true;"}, doc.Scripts)
	assert.Nil(t, doc.HTML)
}

func TestFetchInvalidLocator(t *testing.T) {
	_, err := newSession(t, New(testConfig()), "").Fetch(context.Background(), "ftp://bad")
	assert.True(t, errors.Is(err, ErrInvalidLocator))
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newSession(t, New(testConfig()), "").Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrStatus))
}

func TestSessionsIsolateCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sid"); err == nil {
			_, _ = w.Write([]byte("returning"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/"})
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	l := New(testConfig())
	a := newSession(t, l, "")
	b := newSession(t, l, "")
	ctx := context.Background()

	doc, err := a.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "fresh", doc.Body)

	doc, err = a.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "returning", doc.Body)

	doc, err = b.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "fresh", doc.Body)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	s := newSession(t, New(cfg), "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Fetch(ctx, srv.URL)
		require.Error(t, err)
	}

	_, err := s.Fetch(ctx, srv.URL)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), hits.Load())
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<html><head><title>Local</title></head><body></body></html>"), 0o644))
	script := filepath.Join(dir, "boot.js")
	require.NoError(t, os.WriteFile(script, []byte("var x = 1;"), 0o644))

	s := newSession(t, New(testConfig()), "")
	ctx := context.Background()

	doc, err := s.Fetch(ctx, "file://"+page)
	require.NoError(t, err)
	assert.Equal(t, KindHTML, doc.Kind)
	assert.Equal(t, "Local", doc.Title)

	doc, err = s.Fetch(ctx, "asar:"+script)
	require.NoError(t, err)
	assert.Equal(t, KindScript, doc.Kind)
	assert.Equal(t, []string{"var x = 1;"}, doc.Scripts)

	_, err = s.Fetch(ctx, "file://"+filepath.Join(dir, "missing.html"))
	assert.Error(t, err)
}

func TestFileRoots(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "app", "index.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(allowed), 0o755))
	require.NoError(t, os.WriteFile(allowed, []byte("<html></html>"), 0o644))
	denied := filepath.Join(dir, "secret.html")
	require.NoError(t, os.WriteFile(denied, []byte("<html></html>"), 0o644))

	cfg := testConfig()
	cfg.FileRoots = []string{filepath.ToSlash(filepath.Join(dir, "app")) + "/**"}
	s := newSession(t, New(cfg), "")

	_, err := s.Fetch(context.Background(), "file://"+allowed)
	assert.NoError(t, err)

	_, err = s.Fetch(context.Background(), "file://"+denied)
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestCharsetFromHeader(t *testing.T) {
	assert.Equal(t, "iso-8859-1", charsetOf(`text/html; charset="ISO-8859-1"`, nil))
	assert.Equal(t, "utf-8", charsetOf("", nil))
}

func TestToUTF8(t *testing.T) {
	out, err := toUTF8([]byte{'c', 'a', 'f', 0xe9}, "iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", out)
}
