package apyserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrPortUnavailable is returned by Serve when the configured address is
// already bound or otherwise unavailable (spec.md §6 "process exit codes").
var ErrPortUnavailable = errors.New("apyserver: port unavailable")

// Config holds every server-wide option named in spec.md §6.
type Config struct {
	Addr            string
	Port            int
	Buf             int
	Timeout         time.Duration
	HeaderSize      int
	BigEndian       bool
	DefaultEncoding Encoding
	SessionLimit    int
	LoggingLevel    logrus.Level
}

// DefaultConfig returns the same defaults as the original source's
// constructor (spec.md §6): addr 127.0.0.1, port 8081, 1024-byte read
// chunks, a 60s timeout, a 4-byte big-endian length header, JSON encoding,
// and no session limit.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1",
		Port:            8081,
		Buf:             1024,
		Timeout:         60 * time.Second,
		HeaderSize:      4,
		BigEndian:       true,
		DefaultEncoding: EncodingText,
		SessionLimit:    0,
		LoggingLevel:    logrus.InfoLevel,
	}
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithShutdownHook registers a teardown hook invoked exactly once when the
// server stops serving (spec.md §4.8 "Explicit shutdown invokes a
// user-supplied teardown hook once").
func WithShutdownHook(fn func()) Option {
	return func(s *Server) { s.shutdownHook = fn }
}

// WithLimiterWeight overrides the default bounded-concurrency weight for
// RunSyncTask's offload pool (SPEC_FULL.md §5).
func WithLimiterWeight(n int64) Option {
	return func(s *Server) { s.limiterWeight = n }
}

// Server is the framed TCP application server (spec.md §2). It owns the
// handler registry, the session/ban registry, and the blocking-work
// offload pool. The handler registry becomes read-only once Serve is
// called (spec.md §3 invariant).
type Server struct {
	cfg      Config
	handlers *HandlerRegistry
	sessions *sessionRegistry
	logger   *logrus.Logger

	limiterWeight int64
	limiter       *semaphore.Weighted

	listener     net.Listener
	shutdownHook func()
	shutdownOnce sync.Once
	serving      bool
}

// New builds a Server from cfg. Handlers must be registered before Serve is
// called.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		handlers:      NewHandlerRegistry(),
		sessions:      newSessionRegistry(cfg.SessionLimit),
		logger:        logrus.New(),
		limiterWeight: int64(runtime.GOMAXPROCS(0) * 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.SetLevel(cfg.LoggingLevel)
	s.limiter = semaphore.NewWeighted(s.limiterWeight)
	return s
}

// AddHandler registers fn in group 0 (spec.md §4.4 "register" default
// group).
func (s *Server) AddHandler(fn HandlerFunc, filters ...Filter) {
	s.handlers.Register(0, fn, filters...)
}

// AddHandlerGroup registers fn in the given group (spec.md §4.4).
func (s *Server) AddHandlerGroup(group int, fn HandlerFunc, filters ...Filter) {
	s.handlers.Register(group, fn, filters...)
}

// Ban adds addr to the ban list (spec.md §3 "Ban list").
func (s *Server) Ban(addr string) { s.sessions.ban(addr) }

// Unban removes addr from the ban list.
func (s *Server) Unban(addr string) { s.sessions.unban(addr) }

// IsBanned reports whether addr is currently banned.
func (s *Server) IsBanned(addr string) bool { return s.sessions.isBanned(addr) }

// SessionsOf returns the sessions currently open for addr
// (spec.md §4.5 "sessions_of").
func (s *Server) SessionsOf(addr string) []*Session { return s.sessions.sessionsOf(addr) }

// RunSyncTask offloads a blocking call to a goroutine gated by the bounded
// capacity limiter, returning its result once finished or ctx's error if
// cancelled first (spec.md §5 "run_sync_task"). The underlying goroutine is
// not forcibly killed on cancellation; fn is expected to check ctx itself
// for true cancellability, matching trio.to_thread.run_sync's
// best-effort "cancellable" flag.
func (s *Server) RunSyncTask(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.limiter.Release(1)

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// Serve binds the configured address and spawns one connection loop per
// accepted socket until ctx is cancelled or Shutdown is called
// (spec.md §4.8 "Acceptor"). Bind failures are reported as
// ErrPortUnavailable so callers can map them to a distinguishable process
// exit code (spec.md §6).
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Addr, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	s.listener = ln
	s.handlers.seal()
	s.serving = true

	s.logger.WithField("addr", addr).Info("listening")

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer s.runShutdownHook()

	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if errors.Is(aerr, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(aerr).Error("accept failed")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting new connections and runs the teardown hook
// exactly once. In-flight connections are left to finish on their own
// deadlines.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

func (s *Server) runShutdownHook() {
	if s.shutdownHook != nil {
		s.shutdownHook()
	}
}

// sendTo serializes payload and writes one framed message to conn,
// guarding the write with mu so concurrent senders on the same connection
// never interleave (spec.md §4.9, §5 "atomic per call").
func (s *Server) sendTo(conn net.Conn, mu *sync.Mutex, payload Payload, encoding Encoding, close bool) error {
	data, err := encodePayload(encoding, payload)
	if err != nil {
		return err
	}

	mu.Lock()
	werr := writeOneFrame(conn, data, encoding, s.cfg.HeaderSize, s.cfg.BigEndian)
	mu.Unlock()
	if werr != nil {
		_ = conn.Close()
		return werr
	}

	if close {
		return conn.Close()
	}
	return nil
}

// replyError sends one of the fixed server-generated error payloads
// (spec.md §6) in the given encoding and best-effort closes the
// connection.
func (s *Server) replyError(conn net.Conn, mu *sync.Mutex, encoding Encoding, code string) {
	payload := Payload{"status": "failure", "error": code}
	data, err := encodePayload(encoding, payload)
	if err != nil {
		// Fall back to text if the negotiated encoding itself can't
		// represent the error (should not happen for the fixed shape above).
		encoding = EncodingText
		data, _ = encodePayload(encoding, payload)
	}

	mu.Lock()
	_ = writeOneFrame(conn, data, encoding, s.cfg.HeaderSize, s.cfg.BigEndian)
	mu.Unlock()
}
