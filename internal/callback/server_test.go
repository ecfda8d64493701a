package callback

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", "")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestCapturesFirstRedirect(t *testing.T) {
	s := newTestServer(t)

	if _, ok := s.Pending(); ok {
		t.Fatal("pending before any redirect")
	}

	resp, err := http.Get(s.RedirectURL() + "?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "close this window") {
		t.Fatalf("unexpected body: %s", body)
	}

	params, ok := s.Pending()
	if !ok {
		t.Fatal("no pending redirect")
	}
	if params.Get("code") != "abc" || params.Get("state") != "xyz" {
		t.Fatalf("params = %v", params)
	}
}

func TestDuplicateRedirectKeepsFirst(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"?code=first&state=s", "?code=second&state=s"} {
		resp, err := http.Get(s.RedirectURL() + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
	}

	params, ok := s.Pending()
	if !ok {
		t.Fatal("no pending redirect")
	}
	if got := params.Get("code"); got != "first" {
		t.Fatalf("code = %q, want first", got)
	}
}

func TestClearReArms(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.RedirectURL() + "?code=one")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	s.Clear()

	if _, ok := s.Pending(); ok {
		t.Fatal("pending survived Clear")
	}

	resp, err = http.Get(s.RedirectURL() + "?code=two")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	params, ok := s.Pending()
	if !ok {
		t.Fatal("no pending redirect after re-arm")
	}
	if got := params.Get("code"); got != "two" {
		t.Fatalf("code = %q, want two", got)
	}
}

func TestWaitUnblocksOnRedirect(t *testing.T) {
	s := newTestServer(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.Wait(ctx)
	}()

	resp, err := http.Get(s.RedirectURL() + "?code=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if err := <-done; err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}
