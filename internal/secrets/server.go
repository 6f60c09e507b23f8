// Package secrets serves repository passwords to engine password commands
// over a loopback HTTP endpoint, so the password never appears in a child
// environment or argv. Each secret is reachable through a random token and
// is forgotten once its uses are exhausted.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackwell-systems/resticgx/internal/lg"
)

const tokenParam = "secret"

// Config holds server settings.
type Config struct {
	// Addr is the listen address; the host must be a loopback address.
	// Defaults to 127.0.0.1:0 (random port).
	Addr string
	// Askpass is the command prefix engines run to fetch a secret; the
	// secret URL is appended. Defaults to "<this executable> askpass".
	Askpass      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       lg.Logger
}

type entry struct {
	secret    string
	remaining int
}

// Server is a loopback one-time secret endpoint.
type Server struct {
	cfg      Config
	listener net.Listener
	http     *http.Server
	log      lg.Logger

	mu       sync.Mutex
	registry map[string]*entry
}

// Start listens on cfg.Addr and serves in the background.
func Start(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = lg.Discard
	}
	if cfg.Askpass == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable for askpass: %w", err)
		}
		cfg.Askpass = strconv.Quote(exe) + " askpass"
	}

	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid secrets address %q: %w", cfg.Addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("secrets address %q is not a loopback address", cfg.Addr)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	s := &Server{
		cfg:      cfg,
		listener: ln,
		log:      cfg.Logger.With(lg.String("component", "secrets")),
		registry: make(map[string]*entry),
	}
	s.http = &http.Server{
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("secrets server stopped", lg.Err(err))
		}
	}()
	s.log.Debug("secrets server listening", lg.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Registration is a registered secret.
type Registration struct {
	Token string
	URL   string
	// Command is the password command for the engine.
	Command string

	server *Server
}

// Unregister forgets the secret if it has not been used up.
func (r *Registration) Unregister() {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	delete(r.server.registry, r.Token)
}

// Register makes secret available for uses fetches.
func (s *Server) Register(secret string, uses int) *Registration {
	if uses < 1 {
		uses = 1
	}
	token := uuid.NewString()

	s.mu.Lock()
	s.registry[token] = &entry{secret: secret, remaining: uses}
	s.mu.Unlock()

	u := url.URL{Scheme: "http", Host: s.Addr(), Path: "/", RawQuery: url.Values{tokenParam: {token}}.Encode()}
	return &Registration{
		Token:   token,
		URL:     u.String(),
		Command: s.cfg.Askpass + " " + strconv.Quote(u.String()),
		server:  s,
	}
}

// Issue registers secret for uses fetches and returns the password command
// and a release func. It lets a Server stand in as a credential issuer.
func (s *Server) Issue(secret string, uses int) (string, func()) {
	reg := s.Register(secret, uses)
	return reg.Command, reg.Unregister
}

// Pending returns the number of registered secrets.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get(tokenParam)
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	e, ok := s.registry[token]
	var secret string
	if ok {
		secret = e.secret
		e.remaining--
		if e.remaining <= 0 {
			delete(s.registry, token)
		}
	}
	s.mu.Unlock()

	if !ok {
		s.log.Warn("unknown secret token requested", lg.String("remote", r.RemoteAddr))
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, secret)
}

// Close forgets every secret and shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.registry = make(map[string]*entry)
	s.mu.Unlock()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down secrets server: %w", err)
	}
	return nil
}

// Fetch retrieves a secret from a registration URL. It is what the askpass
// command runs.
func Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid secret url: %w", err)
	}
	if ip := net.ParseIP(u.Hostname()); ip == nil || !ip.IsLoopback() {
		return "", fmt.Errorf("refusing to fetch secret from non-loopback host %q", u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch secret: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(body), nil
}
