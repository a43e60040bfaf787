package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), uuid.New())
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// newResolverServer serves a resolver endpoint at / and the media file at /media.
func newResolverServer(t *testing.T, resolver http.HandlerFunc, media http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/media", media)
	mux.HandleFunc("/", resolver)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProxyFetcher(srv *httptest.Server, key string) *ProxyFetcher {
	f := NewProxyFetcher(key, "resolver.test", srv.Client())
	f.endpoint = srv.URL + "/"
	return f
}

func TestProxyFetcher_Success(t *testing.T) {
	var srv *httptest.Server
	srv = newResolverServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-RapidAPI-Key") != "secret" || r.Header.Get("X-RapidAPI-Host") != "resolver.test" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if r.URL.Query().Get("hd") != "1" || r.URL.Query().Get("url") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, `{"code":0,"msg":"success","data":{"id":"7234","title":"My Cool Video","duration":10,"hdplay":"%s/media","play":"","cover":"https://img/cover.jpg","author":{"unique_id":"jane_doe"}}}`, srv.URL)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("fake-mp4-bytes"))
		},
	)

	ws := newTestWorkspace(t)
	artifact, meta, err := testProxyFetcher(srv, "secret").Fetch(context.Background(), ws, "https://www.tiktok.com/@jane_doe/video/7234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Size != int64(len("fake-mp4-bytes")) || artifact.Ext != "mp4" {
		t.Errorf("unexpected artifact %+v", artifact)
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		t.Errorf("expected artifact file on disk: %v", err)
	}
	if meta.Title != "My Cool Video" || meta.Uploader != "jane_doe" || meta.Duration != 10 || meta.VideoID != "7234" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Source != "tiktok" {
		t.Errorf("expected source tiktok, got %q", meta.Source)
	}
	if meta.Thumbnail == nil || *meta.Thumbnail != "https://img/cover.jpg" {
		t.Errorf("expected cover thumbnail, got %v", meta.Thumbnail)
	}
	if got := SynthesizeBaseName(meta.Title, meta.Uploader); got != "My Cool Video - Jane Doe" {
		t.Errorf("unexpected base name %q", got)
	}
}

func TestProxyFetcher_ResolverRateLimitIsRecoverable(t *testing.T) {
	srv := newResolverServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"Too many requests"}`))
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	_, _, err := testProxyFetcher(srv, "secret").Fetch(context.Background(), newTestWorkspace(t), "https://www.tiktok.com/@a/video/1")
	var limited *UpstreamRateLimitedError
	if !errors.As(err, &limited) || limited.Side != SideResolver {
		t.Fatalf("expected resolver rate limit, got %v", err)
	}
	if !Recoverable(err) {
		t.Errorf("expected resolver rate limit to be recoverable")
	}
}

func TestProxyFetcher_OriginBlockEscalates(t *testing.T) {
	var srv *httptest.Server
	srv = newResolverServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"code":0,"data":{"id":"1","title":"t","play":"%s/media","author":{"unique_id":"a"}}}`, srv.URL)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	)

	ws := newTestWorkspace(t)
	_, _, err := testProxyFetcher(srv, "secret").Fetch(context.Background(), ws, "https://www.tiktok.com/@a/video/1")
	var auth *UpstreamAuthError
	if !errors.As(err, &auth) || auth.Side != SideOrigin {
		t.Fatalf("expected origin auth error, got %v", err)
	}
	if Recoverable(err) {
		t.Errorf("expected origin block to be non-recoverable")
	}
	entries, _ := os.ReadDir(ws.Dir)
	if len(entries) != 0 {
		t.Errorf("expected no partial files left in workspace, found %d", len(entries))
	}
}

func TestProxyFetcher_ResolverRejectsURL(t *testing.T) {
	srv := newResolverServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":-1,"msg":"Url parsing is failed! Please check url."}`))
		},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	_, _, err := testProxyFetcher(srv, "secret").Fetch(context.Background(), newTestWorkspace(t), "https://www.tiktok.com/@a/video/1")
	if !isNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProxyFetcher_HTMLInsteadOfMedia(t *testing.T) {
	var srv *httptest.Server
	srv = newResolverServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"code":0,"data":{"id":"1","title":"t","play":"%s/media","author":{"unique_id":"a"}}}`, srv.URL)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html>captcha</html>"))
		},
	)

	_, _, err := testProxyFetcher(srv, "secret").Fetch(context.Background(), newTestWorkspace(t), "https://www.tiktok.com/@a/video/1")
	if !isUnsupported(err) {
		t.Fatalf("expected unsupported media error, got %v", err)
	}
}

func TestProxyFetcher_MissingKey(t *testing.T) {
	f := NewProxyFetcher("", "resolver.test", nil)
	_, _, err := f.Fetch(context.Background(), newTestWorkspace(t), "https://www.tiktok.com/@a/video/1")
	if !isAuth(err) || !strings.Contains(err.Error(), "RAPIDAPI_KEY") {
		t.Fatalf("expected auth error naming the key, got %v", err)
	}
}
