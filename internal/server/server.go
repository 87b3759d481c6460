// Package server wires together the engine, the worker pool, and a TCP
// listener into a supervised process: single-instance enforcement via a
// PID file, bind-with-retry, a non-blocking accept loop, and graceful
// shutdown on SIGTERM/SIGINT with on-demand compaction on SIGUSR1.
package server

import (
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kvlite/internal/config"
	"kvlite/internal/kv"
	"kvlite/internal/pool"
)

// bindRetryTimeout and bindRetryInterval bound how long Run waits for a
// port held by a not-yet-exited predecessor process to free up, rather
// than failing immediately on the first EADDRINUSE.
const (
	bindRetryTimeout  = 5 * time.Second
	bindRetryInterval = 100 * time.Millisecond
	acceptPollTimeout = 10 * time.Millisecond
)

// Server supervises one kv.Engine behind a TCP listener.
type Server struct {
	cfg      config.Config
	engine   *kv.Engine
	listener *net.TCPListener
	pool     *pool.Pool
	logger   logrus.FieldLogger

	running atomic.Bool
}

// New opens the engine and claims the PID file and listening address.
// It does not start accepting connections; call Run for that.
func New(cfg config.Config, logger logrus.FieldLogger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := acquirePIDFile(cfg.PIDFile); err != nil {
		return nil, err
	}

	engine, err := kv.NewEngine(kv.EngineConfig{
		LogPath:          cfg.LogFile,
		CompactThreshold: cfg.CompactThreshold,
		MaxKeySize:       cfg.MaxKeySize,
		MaxValueSize:     cfg.MaxValueSize,
	}, logger)
	if err != nil {
		removePIDFile(cfg.PIDFile)
		return nil, err
	}

	listener, err := bindWithRetry(cfg.ListenAddr, logger)
	if err != nil {
		engine.Close()
		removePIDFile(cfg.PIDFile)
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		listener: listener,
		pool:     pool.New(cfg.Workers, cfg.Workers*2, logger),
		logger:   logger,
	}
	s.running.Store(true)
	return s, nil
}

// bindWithRetry binds addr, retrying on "address already in use" until
// bindRetryTimeout elapses. A predecessor process that is shutting down
// may still hold the port briefly; this mirrors the original server's
// startup race tolerance.
func bindWithRetry(addr string, logger logrus.FieldLogger) (*net.TCPListener, error) {
	deadline := time.Now().Add(bindRetryTimeout)
	var lastErr error

	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln.(*net.TCPListener), nil
		}
		lastErr = err

		if !errors.Is(err, syscall.EADDRINUSE) || time.Now().After(deadline) {
			return nil, errors.Wrapf(lastErr, "bind %s", addr)
		}
		logger.WithField("addr", addr).Debug("server: address in use, retrying bind")
		time.Sleep(bindRetryInterval)
	}
}

// Run accepts connections until Shutdown is called or a terminating
// signal arrives, then blocks until all in-flight connections and
// queued jobs finish.
func (s *Server) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	compactCh := make(chan os.Signal, 1)
	signal.Notify(compactCh, syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.acceptLoop()
	}()

	go func() {
		for range compactCh {
			if err := s.engine.Compact(); err != nil {
				s.logger.WithError(err).Error("server: signal-triggered compaction failed")
			}
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.WithField("signal", sig).Info("server: shutdown signal received")
	case <-done:
	}

	signal.Stop(compactCh)
	close(compactCh)

	return s.Shutdown()
}

// acceptLoop polls the listener with a short deadline so it can notice
// s.running flipping to false without blocking forever inside Accept.
func (s *Server) acceptLoop() {
	for s.running.Load() {
		s.listener.SetDeadline(time.Now().Add(acceptPollTimeout))
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				return
			}
			s.logger.WithError(err).Warn("server: accept failed")
			continue
		}

		accepted := s.pool.Execute(func() {
			s.handleConn(conn)
		})
		if !accepted {
			// Shutdown won the race after Accept returned this
			// connection; nothing will call handleConn to close it.
			conn.Close()
		}
	}
}

// Shutdown stops accepting new connections, drains queued jobs, closes
// the engine, and removes the PID file. It is safe to call once.
func (s *Server) Shutdown() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.listener.Close()
	s.pool.Shutdown()

	var firstErr error
	if err := s.engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := removePIDFile(s.cfg.PIDFile); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info("server: shutdown complete")
	return firstErr
}

// Addr reports the address the listener is bound to, mainly useful in
// tests that bind to ":0" and need the chosen port.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
