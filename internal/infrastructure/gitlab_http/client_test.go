package gitlab_http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const pipelinesJSON = `[
  {"id": 49, "status": "running", "ref": "master", "sha": "0000000000000000000000000000000000000000"},
  {"id": 48, "status": "pending", "ref": "develop", "sha": "eb94b618fb5865b26e80fdd8ae531b7a63ad851a"},
  {"id": 47, "status": "success", "ref": "develop", "sha": "a91957a858320c0e17f3a0eca7cfacbff50ea29a"}
]`

const detailJSON = `{
  "id": 48,
  "status": "pending",
  "ref": "develop",
  "sha": "eb94b618fb5865b26e80fdd8ae531b7a63ad851a",
  "user": {"name": "Administrator", "username": "root"},
  "web_url": "https://example.com/foo/bar/pipelines/48"
}`

func gitlabStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"401 Unauthorized"}`))
			return
		}
		switch r.URL.EscapedPath() {
		case "/api/v4/projects/company%2Fproject/pipelines":
			if got := r.URL.Query().Get("ref"); got != "develop" {
				t.Errorf("ref filter = %q, want develop", got)
			}
			_, _ = w.Write([]byte(pipelinesJSON))
		case "/api/v4/projects/company%2Fproject/pipelines/48":
			_, _ = w.Write([]byte(detailJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestBuild_PicksNewestOnBranchAndFetchesDetail(t *testing.T) {
	srv := gitlabStub(t)
	c := New(srv.URL+"/", "token", time.Second)

	b, err := c.ForProject(domain.ProjectRef{ProjectID: "company/project", Ref: "develop"}).LatestBuild(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.ID != 48 || b.Status != "pending" || b.Ref != "develop" {
		t.Errorf("unexpected build %+v", b)
	}
	if b.AuthorName != "Administrator" {
		t.Errorf("author = %q", b.AuthorName)
	}
	if b.ShortSHA() != "eb94b618" {
		t.Errorf("short sha = %q", b.ShortSHA())
	}
}

func TestLatestBuild_UnauthorizedIsServerErrorWithoutRetry(t *testing.T) {
	srv := gitlabStub(t)
	core, logs := observer.New(zap.DebugLevel)
	c := New(srv.URL, "wrong", time.Second, WithLogger(zap.New(core)), WithRetry(5, time.Millisecond))

	_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "company/project", Ref: "develop"})

	var se *domain.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.StatusCode != http.StatusUnauthorized {
		t.Errorf("status code = %d", se.StatusCode)
	}
	if !strings.Contains(se.Error(), "401") || !strings.Contains(se.Error(), "Unauthorized") || !strings.Contains(se.Error(), "401 Unauthorized\"}") {
		t.Errorf("message lacks code, text or body: %q", se.Error())
	}
	if n := logs.FilterMessage("retrying pipeline fetch").Len(); n != 0 {
		t.Errorf("expected no retries, got %d", n)
	}
}

func TestLatestBuild_ServerErrorsAreNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			c := New(srv.URL, "token", time.Second, WithRetry(5, time.Millisecond))
			_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "1", Ref: "main"})

			var se *domain.ServerError
			if !errors.As(err, &se) || se.StatusCode != code {
				t.Fatalf("expected ServerError %d, got %v", code, err)
			}
			if calls != 1 {
				t.Errorf("expected 1 request, got %d", calls)
			}
		})
	}
}

func TestLatestBuild_NoPipelineForBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "status": "success", "ref": "master"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", time.Second, WithRetry(5, time.Millisecond))
	_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "1", Ref: "develop"})
	if !errors.Is(err, domain.ErrNoPipeline) {
		t.Fatalf("expected ErrNoPipeline, got %v", err)
	}
}

// flakyTransport fails the first n round trips with a transport error and
// then hands requests to the wrapped transport.
type flakyTransport struct {
	failures int32
	calls    int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(r)
}

func TestLatestBuild_RetriesTransportFailures(t *testing.T) {
	srv := gitlabStub(t)
	tr := &flakyTransport{failures: 3, next: http.DefaultTransport}
	core, logs := observer.New(zap.DebugLevel)

	c := New(srv.URL, "token", time.Second,
		WithHTTPClient(&http.Client{Transport: tr}),
		WithLogger(zap.New(core)),
		WithRetry(5, time.Millisecond),
	)

	b, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "company/project", Ref: "develop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ID != 48 {
		t.Errorf("unexpected build %+v", b)
	}

	retries := logs.FilterMessage("retrying pipeline fetch").All()
	if len(retries) != 3 {
		t.Fatalf("expected 3 delays, got %d", len(retries))
	}
	if d := retries[0].ContextMap()["delay"]; d != time.Millisecond {
		t.Errorf("delay = %v, want 1ms", d)
	}
}

func TestLatestBuild_ExhaustedRetriesRaiseNetworkError(t *testing.T) {
	tr := &flakyTransport{failures: 100, next: http.DefaultTransport}
	core, logs := observer.New(zap.DebugLevel)

	c := New("http://gitlab.invalid", "token", time.Second,
		WithHTTPClient(&http.Client{Transport: tr}),
		WithLogger(zap.New(core)),
		WithRetry(5, time.Millisecond),
	)

	_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "1", Ref: "develop"})

	var ne *domain.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if ne.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", ne.Attempts)
	}
	if !strings.Contains(errors.Unwrap(ne).Error(), "connection reset") {
		t.Errorf("last cause not wrapped: %v", ne.Err)
	}
	if tr.calls != 5 {
		t.Errorf("expected 5 requests, got %d", tr.calls)
	}
	if n := logs.FilterMessage("retrying pipeline fetch").Len(); n != 4 {
		t.Errorf("expected 4 delays, got %d", n)
	}
}

func TestLatestBuild_DecodeErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", time.Second, WithRetry(5, time.Millisecond))
	_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "1", Ref: "main"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 request, got %d", calls)
	}
}

func TestLatestBuild_BodyReadTimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`[{"id":`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "token", 100*time.Millisecond, WithRetry(5, time.Millisecond))
	_, err := c.LatestBuild(context.Background(), domain.ProjectRef{ProjectID: "1", Ref: "main"})

	var ne *domain.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if ne.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", ne.Attempts)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("expected 5 requests, got %d", n)
	}
}
