// Package server implements the acceptor of spec §4.6: bind a listening
// socket, accept up to the expected number of agency clients, spawn one
// intake worker per connection, and orchestrate shutdown.
//
// Grounded on server.go's Serve/acceptOnce/Shutdown shape in the teacher
// repo, adapted from a long-lived CAN stream (unbounded accept loop,
// reader+writer goroutines per client, handshake, hub registration) to this
// domain's bounded, request/response intake: accept exactly K clients, run
// one goroutine per client through the intake state machine, and there is
// no handshake or fan-out hub to register against.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fedepagnotta/lottery-server/internal/draw"
	"github.com/fedepagnotta/lottery-server/internal/intake"
	"github.com/fedepagnotta/lottery-server/internal/logging"
	"github.com/fedepagnotta/lottery-server/internal/metrics"
	"github.com/fedepagnotta/lottery-server/internal/netutil"
	"github.com/fedepagnotta/lottery-server/internal/store"
)

// Server owns the TCP listener and coordinates the intake lifecycle.
type Server struct {
	mu              sync.RWMutex
	addr            string
	backlog         int
	expectedClients int
	readDeadline    time.Duration

	store       *store.Store
	coordinator *draw.Coordinator

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	wg        sync.WaitGroup
	logger    *slog.Logger

	acceptedMu    sync.Mutex
	accepted      int
	totalAccepted atomic.Uint64
	totalOK       atomic.Uint64
	totalFailed   atomic.Uint64
}

const defaultReadDeadline = 60 * time.Second

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

func WithBacklog(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.backlog = n
		}
	}
}

func WithExpectedClients(n int) ServerOption { return func(s *Server) { s.expectedClients = n } }

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithStore(st *store.Store) ServerOption          { return func(s *Server) { s.store = st } }
func WithCoordinator(c *draw.Coordinator) ServerOption { return func(s *Server) { s.coordinator = c } }

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve binds the listener and accepts connections until expectedClients
// have been accepted, or ctx is cancelled (spec §4.6). Each accepted
// connection is handed to its own intake worker goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr, backlog := s.addr, s.backlog
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()

	ln, err := netutil.Listen(addr, backlog)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrListen)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "expected_clients", s.expectedClients, "backlog", backlog)
	s.logger.Info("ready")

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for s.acceptedSoFar() < s.expectedClients {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			return err
		}
	}

	s.logger.Info("intake_complete", "accepted", s.totalAccepted.Load())
	_ = ln.Close()
	s.wg.Wait()
	snap := metrics.Snap()
	s.logger.Info("server_shutdown", "accepted", s.totalAccepted.Load(), "batches_ok", snap.BatchesOK, "batches_failed", snap.BatchesFailed)
	return nil
}

// acceptOnce accepts a single connection and spawns its intake worker.
// Returns nil on success (including transient/benign errors); a wrapped
// error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok && !errors.Is(err, net.ErrClosed) {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(metrics.ErrAccept)
		s.setError(wrap)
		return wrap
	}

	s.acceptedMu.Lock()
	s.accepted++
	s.acceptedMu.Unlock()
	s.totalAccepted.Add(1)
	metrics.IncClientConnected()
	metrics.ActiveClients.Inc()

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	connLogger := s.logger.With("remote", conn.RemoteAddr().String())
	connLogger.Info("client_connected")

	sess := intake.NewSession(conn, s.store, s.coordinator, connLogger, s.readDeadline)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer metrics.ActiveClients.Dec()
		sess.Run()
		connLogger.Info("client_disconnected")
	}()
	return nil
}

func (s *Server) acceptedSoFar() int {
	s.acceptedMu.Lock()
	defer s.acceptedMu.Unlock()
	return s.accepted
}

// Shutdown closes the listener, aborts the draw barrier so any handler
// blocked on it unblocks with BROKEN instead of hanging, and waits (bounded
// by ctx) for every worker goroutine to exit (spec §5).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if s.coordinator != nil {
		s.coordinator.Abort()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		snap := metrics.Snap()
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "batches_ok", snap.BatchesOK, "batches_failed", snap.BatchesFailed)
		return nil
	}
}
