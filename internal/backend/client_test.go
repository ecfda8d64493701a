package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

func TestDoSendsRequiredHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(Response{Success: true, Token: "jwt"})
	}))
	defer srv.Close()

	c := New(srv.URL, "anon-key")
	resp, err := c.Do(context.Background(), Request{
		ProviderAccessToken: "provider-token",
		Operation:           OpLoad,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Token != "jwt" {
		t.Fatalf("token = %q, want jwt", resp.Token)
	}

	if got := gotHeaders.Get("Authorization"); got != "Bearer anon-key" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("apikey"); got != "anon-key" {
		t.Fatalf("apikey = %q", got)
	}
	if got := gotHeaders.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if gotHeaders.Get("X-Correlation-ID") == "" {
		t.Fatal("missing X-Correlation-ID")
	}
	if gotReq.Operation != OpLoad || gotReq.ProviderAccessToken != "provider-token" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestDoMapsHTTPFailureToNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "anon")
	_, err := c.Do(context.Background(), Request{Operation: OpGetValidToken})

	var netErr *core.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if netErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", netErr.StatusCode)
	}
	if netErr.Op != OpGetValidToken {
		t.Fatalf("op = %q", netErr.Op)
	}
}

func TestDoMapsRejectionToAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: false, Error: "invalid provider token"})
	}))
	defer srv.Close()

	c := New(srv.URL, "anon")
	_, err := c.Do(context.Background(), Request{Operation: OpLoad})

	var authErr *core.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthenticationError", err)
	}
}

func TestDoUnreachableEndpoint(t *testing.T) {
	c := New("http://127.0.0.1:1", "anon")
	_, err := c.Do(context.Background(), Request{Operation: OpLoad})

	var netErr *core.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}
