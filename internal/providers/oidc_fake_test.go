package providers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeOIDC is a minimal identity provider for tests: discovery, token,
// userinfo and device authorization endpoints on one httptest server.
type fakeOIDC struct {
	server *httptest.Server

	tokenCalls  int32
	tokenFn     func(r *http.Request) (int, any)
	deviceFn    func(r *http.Request) (int, any)
	userinfoSub string
}

func newFakeOIDC(t *testing.T) *fakeOIDC {
	t.Helper()
	f := &fakeOIDC{userinfoSub: "user-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                        f.server.URL,
			"authorization_endpoint":        f.server.URL + "/auth",
			"token_endpoint":                f.server.URL + "/token",
			"userinfo_endpoint":             f.server.URL + "/userinfo",
			"device_authorization_endpoint": f.server.URL + "/device",
			"jwks_uri":                      f.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		if f.tokenFn == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		status, body := f.tokenFn(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		if f.deviceFn == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, body := f.deviceFn(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub":     f.userinfoSub,
			"email":   "user@example.com",
			"name":    "Test User",
			"picture": "https://example.com/pic.png",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}
