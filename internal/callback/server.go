// Package callback runs a loopback HTTP server that receives the OAuth
// redirect for the web code flow on desktop hosts.
package callback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultPath = "/oauth/callback"

const donePage = `<!doctype html>
<html>
<head><title>Dashie</title></head>
<body>
<p>Sign-in received. You can close this window and return to Dashie.</p>
</body>
</html>`

// Server listens on the loopback interface and captures the query
// parameters of the first redirect it receives. It satisfies the web
// provider's callback source: Pending exposes the captured values and
// Clear consumes them.
type Server struct {
	path string
	srv  *http.Server
	ln   net.Listener

	mu       sync.Mutex
	pending  url.Values
	received chan struct{}
}

// NewServer binds addr immediately so the redirect URL is known before the
// browser is opened. addr is typically "127.0.0.1:0".
func NewServer(addr, path string) (*Server, error) {
	if path == "" {
		path = DefaultPath
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding callback listener: %w", err)
	}

	s := &Server{
		path:     path,
		ln:       ln,
		received: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, s.handleRedirect)

	s.srv = &http.Server{
		Handler: recoverMiddleware(
			correlationIDMiddleware(
				loggingMiddleware(
					mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("callback server stopped")
		}
	}()
}

// RedirectURL is the value to register as the provider redirect URI.
func (s *Server) RedirectURL() string {
	return fmt.Sprintf("http://%s%s", s.ln.Addr().String(), s.path)
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	first := s.pending == nil
	if first {
		s.pending = r.URL.Query()
		close(s.received)
	}
	s.mu.Unlock()

	if !first {
		log.Ctx(r.Context()).Warn().Msg("duplicate redirect ignored")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(donePage))
}

// Pending returns the captured redirect parameters, if any.
func (s *Server) Pending() (url.Values, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, false
	}
	return s.pending, true
}

// Clear consumes the captured parameters and re-arms the server for the
// next sign-in attempt.
func (s *Server) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending = nil
		s.received = make(chan struct{})
	}
}

// Wait blocks until a redirect arrives or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.received
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
