// Package testutil provides a local repository HTTP server and package
// fixture builders for end-to-end tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Server serves a repository directory over HTTP, with per-path fault
// injection for mirror fallback tests.
type Server struct {
	URL string

	srv      *httptest.Server
	mu       sync.Mutex
	failures map[string]int
}

// NewServer starts a server rooted at dir. It is shut down automatically when
// the test finishes.
func NewServer(t *testing.T, dir string) *Server {
	t.Helper()

	s := &Server{failures: make(map[string]int)}
	fileServer := http.FileServer(http.Dir(dir))
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, failing := s.failures[r.URL.Path]
		s.mu.Unlock()
		if failing {
			http.Error(w, http.StatusText(status), status)
			return
		}
		fileServer.ServeHTTP(w, r)
	}))
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

// FailPath makes the server answer the given URL path with an error status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// RestorePath removes a previously injected failure.
func (s *Server) RestorePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}
