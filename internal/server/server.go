// Package server implements the sunday line-protocol listener and the
// per-connection session lifecycle.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/vendsys/sunday/pkg/drop"
	"github.com/vendsys/sunday/pkg/machine"
	"github.com/vendsys/sunday/pkg/protocol"
	"github.com/vendsys/sunday/pkg/session"
)

// Version is set at build time.
var Version = "dev"

// fallbackDisplayName is used in the welcome line when the resolved
// default machine is not in the registry.
const fallbackDisplayName = "Drink"

// Server accepts client connections and runs one session per
// connection. Sessions are independent; all shared state lives in the
// registry, the lock set, and the collaborators behind the handler.
type Server struct {
	addr     string
	registry *machine.Registry
	handler  *session.Handler
	locks    *drop.LockSet
	logger   *slog.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a server listening on addr once Serve is called.
func New(addr string, registry *machine.Registry, handler *session.Handler, locks *drop.LockSet, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		registry: registry,
		handler:  handler,
		locks:    locks,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve listens and accepts connections until ctx is canceled, then
// closes every live connection and waits for their sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("sunday server running", "addr", ln.Addr().String(), "version", Version)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listener address, valid once Serve has started
// listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// handleConn runs one session: welcome, serial command loop, teardown.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	peerIP := peerIP(conn)
	alias := s.registry.ResolveAddr(peerIP)
	sess := session.New(conn.RemoteAddr().String(), alias)

	defer func() {
		// The pipeline releases its lock on every exit path; this is the
		// defensive backstop for an abrupt teardown.
		if n := s.locks.ReleaseOwner(sess.ID); n > 0 {
			s.logger.Warn("released stale slot locks at disconnect", "session", sess.ID, "count", n)
		}
		s.logger.Info("client disconnected", "session", sess.ID, "remote", sess.RemoteAddr)
	}()

	s.logger.Info("client connected", "session", sess.ID, "remote", sess.RemoteAddr, "machine", alias)

	displayName := fallbackDisplayName
	if m, ok := s.registry.Get(alias); ok {
		displayName = m.DisplayName
	}
	if _, err := fmt.Fprintf(conn, "Welcome to %s\n", displayName); err != nil {
		s.logger.Error("writing welcome", "session", sess.ID, "error", err)
		return
	}

	w := protocol.NewWriter(conn, s.logger)
	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read failed", "session", sess.ID, "error", err)
			}
			return
		}
		// Commands are strictly serial within a session: the next read
		// does not start until this command, including any in-flight
		// drop, has completed.
		if closeConn := s.handler.Handle(ctx, sess, line, w); closeConn {
			return
		}
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// peerIP extracts the bare IP from the connection's remote address.
func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
