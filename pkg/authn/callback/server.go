// Package callback implements the short-lived loopback HTTP listener used
// to capture the OAuth2 authorization response during browser login.
package callback

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/nextstrain/cli/pkg/logger"
)

// Server accepts exactly one GET matching the redirect path, captures its
// full URL, and stops. The socket is claimed at Bind time, before the user
// is ever shown an authorization URL, so the redirect target is guaranteed
// reachable; Serve only then starts the accept loop.
type Server struct {
	path string
	ln   net.Listener
	srv  *http.Server

	result    chan *url.URL
	deliver   sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Bind claims a loopback socket for the given host, port, and redirect
// path. Port 0 requests an OS-assigned ephemeral port, available from
// Port() afterwards.
//
// Address reuse is deliberately disabled on the socket (RFC 8252 §B.5):
// once this process releases the port, another local process must not be
// able to claim it while old redirects could still arrive.
func Bind(ctx context.Context, host string, port int, path string) (*Server, error) {
	lc := net.ListenConfig{Control: disableAddressReuse}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = "/"
	}

	return &Server{
		path:   path,
		ln:     ln,
		result: make(chan *url.URL, 1),
	}, nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve starts the accept loop on a background goroutine and returns the
// channel on which the captured redirect URL is delivered. The channel
// receives at most one value; callers must Close the server afterwards
// (or on abandonment) to release the socket.
func (s *Server) Serve() <-chan *url.URL {
	s.srv = &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			logger.Debugf("Callback server stopped: %v", err)
		}
	}()

	return s.result
}

// Close shuts the server down and releases the socket. Safe to call more
// than once and regardless of whether Serve was ever called.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.srv != nil {
			s.closeErr = s.srv.Close()
		} else {
			s.closeErr = s.ln.Close()
		}
	})
	return s.closeErr
}

// handle processes a single request. Requests that do not match the
// expected redirect path get a 400 and the server keeps waiting; stray
// fetches (favicons, probes) must not consume the one real callback.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodGet || r.URL.Path != s.path {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(unexpectedRequestPage))
		return
	}

	// Reconstruct the full redirect URL as the browser requested it.
	captured := *r.URL
	captured.Scheme = "http"
	captured.Host = r.Host

	s.deliver.Do(func() {
		s.result <- &captured
	})

	_, _ = w.Write([]byte(successPage))
}

// setSecurityHeaders sets common security headers for all responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'; script-src 'none'; object-src 'none';")
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Nextstrain CLI</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: sans-serif; margin: 40px; text-align: center; }
        .message { max-width: 600px; margin: 20px auto; padding: 20px; border-radius: 5px;
                   background-color: #e7f6e7; border: 1px solid #b3e6b3; color: #006600; }
    </style>
</head>
<body>
    <h1>Login successful</h1>
    <div class="message">
        <p>You are now logged in to the Nextstrain CLI. You can close this window and return to the terminal.</p>
    </div>
</body>
</html>`

const unexpectedRequestPage = `<!DOCTYPE html>
<html>
<head>
    <title>Nextstrain CLI</title>
    <meta charset="utf-8">
</head>
<body>
    <h1>Unexpected request</h1>
    <p>This address only handles the Nextstrain CLI login redirect.</p>
</body>
</html>`
