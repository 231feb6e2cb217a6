// Package testutils provides a scriptable stand-in for the Oso Cloud
// API, for exercising the request pipeline without a live backend.
package testutils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Call records one request as the mock server saw it.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is one scripted reply. Body (if non-nil) is JSON-encoded;
// Offset (if non-empty) is sent in the OsoOffset response header.
type Response struct {
	Status int
	Body   interface{}
	Offset string
}

// Server wraps an httptest.Server with per-path response scripts and
// request capture. Scripted responses are consumed in order; the last
// one repeats once the script runs out. Unscripted paths answer
// 200 {}.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []Call
	scripts map[string][]Response
	served  map[string]int
}

// NewServer starts a mock backend, closed automatically when the test
// finishes.
func NewServer(t *testing.T) *Server {
	s := &Server{
		scripts: make(map[string][]Response),
		served:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Script sets the replies for an API path (including the /api prefix).
func (s *Server) Script(path string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[path] = responses
}

// Calls returns a copy of everything the server has seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the captured requests for one path.
func (s *Server) CallsTo(path string) []Call {
	var ret []Call
	for _, c := range s.Calls() {
		if c.Path == path {
			ret = append(ret, c)
		}
	}
	return ret
}

// LastCall returns the most recent request, or nil if none arrived.
func (s *Server) LastCall() *Call {
	calls := s.Calls()
	if len(calls) == 0 {
		return nil
	}
	return &calls[len(calls)-1]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls = append(s.calls, Call{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	script := s.scripts[r.URL.Path]
	n := s.served[r.URL.Path]
	s.served[r.URL.Path] = n + 1
	s.mu.Unlock()

	if len(script) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
		return
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	resp := script[n]

	if resp.Offset != "" {
		w.Header().Set("OsoOffset", resp.Offset)
	}
	w.Header().Set("Content-Type", "application/json")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != nil {
		json.NewEncoder(w).Encode(resp.Body)
	} else {
		w.Write([]byte("{}"))
	}
}
