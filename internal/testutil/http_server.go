package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func listen4() (net.Listener, error) {
	return net.Listen("tcp4", "127.0.0.1:0")
}

func start(ln net.Listener, handler http.Handler) *httptest.Server {
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	return srv
}

// NewHTTPServer serves handler on an IPv4 loopback port. Sandboxes without
// IPv6 break httptest.NewServer's default listener.
func NewHTTPServer(handler http.Handler) *httptest.Server {
	ln, err := listen4()
	if err != nil {
		return httptest.NewServer(handler)
	}
	return start(ln, handler)
}

// NewHTTPServerT is NewHTTPServer for tests: it skips when no port can be
// bound and closes the server on cleanup.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := listen4()
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	srv := start(ln, handler)
	t.Cleanup(srv.Close)
	return srv
}
