package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/courierchat/courier/pkg/database"
	"github.com/courierchat/courier/pkg/filestore"
	"github.com/courierchat/courier/pkg/protocol"
)

// disabledPort marks an endpoint as switched off in the config.
const disabledPort = 0

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

func initLoggers() {
	if errorLog == nil {
		errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	}
	if debugLog == nil {
		debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	}
}

// EnableDebugLogging turns on per-request debug logging to stdout.
func EnableDebugLogging() {
	debugLog = log.New(os.Stdout, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Server is the messaging relay: it accepts client connections, routes
// messages through the store, and pushes real-time notifications to online
// recipients.
type Server struct {
	db       *database.DB
	files    *filestore.Store
	registry *Registry
	config   ServerConfig
	metrics  *Metrics

	listener        net.Listener
	httpListener    net.Listener
	metricsListener net.Listener

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// NewServer creates a new server instance over an opened store and file
// relay. The caller keeps ownership of neither: Stop closes the database.
func NewServer(db *database.DB, files *filestore.Store, config ServerConfig) *Server {
	initLoggers()

	metrics := NewMetrics()
	registry := NewRegistry()
	registry.SetMetrics(metrics)

	return &Server{
		db:        db,
		files:     files,
		registry:  registry,
		config:    config,
		metrics:   metrics,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
}

// Start begins listening for TCP clients and, if configured, serves the
// WebSocket bridge and the internal metrics endpoint.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.ListenPort))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.config.ListenPort, err)
	}
	s.listener = listener
	log.Printf("Courier server listening on %s", listener.Addr())

	if s.config.MetricsPort != disabledPort {
		if err := s.startMetricsServer(); err != nil {
			listener.Close()
			return err
		}
	}

	if s.config.HTTPPort != disabledPort {
		if err := s.startHTTPServer(); err != nil {
			s.closeListeners()
			return err
		}
	}

	s.wg.Add(1)
	go s.statsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HTTPAddr returns the address of the public HTTP server, or nil if disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

func (s *Server) startMetricsServer() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.MetricsPort))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port :%d: %w", s.config.MetricsPort, err)
	}
	s.metricsListener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", listener.Addr())
	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) startHTTPServer() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port :%d: %w", s.config.HTTPPort, err)
	}
	s.httpListener = listener

	log.Printf("Public HTTP server listening on %s (/ws)", listener.Addr())
	mux := s.WebSocketHandler()
	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("Public HTTP server error: %v", err)
		}
	}()
	return nil
}

// WebSocketHandler returns the HTTP handler serving the /ws bridge, for
// embedding the server behind an existing HTTP listener.
func (s *Server) WebSocketHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "ok\nuptime: %s\nsessions: %d\n",
		time.Since(s.startTime).Round(time.Second), s.registry.CountOnline())
}

func (s *Server) closeListeners() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpListener != nil {
		s.httpListener.Close()
	}
	if s.metricsListener != nil {
		s.metricsListener.Close()
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	s.closeOnce.Do(func() { close(s.shutdown) })
	s.closeListeners()

	s.notifyClientsOfShutdown()
	s.registry.CloseAll()

	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// notifyClientsOfShutdown pushes a shutdown notice to every live session.
// Best effort: a session that can't be written to is about to be closed
// anyway.
func (s *Server) notifyClientsOfShutdown() {
	sessions := s.registry.All()
	if len(sessions) == 0 {
		return
	}

	notice := protocol.ShutdownNotice{
		Action:  protocol.ActionServerShutdown,
		Message: "Server shutting down",
	}

	sent := 0
	for _, sess := range sessions {
		if err := sess.Conn.WriteEnvelope(notice); err == nil {
			sent++
		}
	}
	log.Printf("Shutdown notification sent to %d/%d sessions", sent, len(sessions))
}

// acceptLoop accepts incoming connections. It never exits on a
// per-connection error, only on shutdown.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			// Immediate sends matter more than throughput for push latency
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn runs the per-connection handler loop: decode one request,
// dispatch, write one response, until the peer disconnects or a
// stream-level error occurs.
func (s *Server) serveConn(conn net.Conn) {
	sess := s.registry.Track(conn, s.config.WriteTimeout)
	defer s.registry.Drop(sess)

	debugLog.Printf("Session %d: connected from %s", sess.ID, sess.RemoteAddr)

	for {
		if s.config.SessionTimeout > 0 {
			sess.Conn.SetReadDeadline(time.Now().Add(s.config.SessionTimeout))
		}

		var req protocol.Request
		if err := sess.Conn.ReadRequest(&req); err != nil {
			if errors.Is(err, protocol.ErrMalformedEnvelope) {
				// The frame was fully consumed; the stream is still in sync.
				debugLog.Printf("Session %d: malformed request: %v", sess.ID, err)
				if werr := sess.Conn.WriteEnvelope(errorResponse("Invalid request payload")); werr != nil {
					return
				}
				continue
			}
			s.logDisconnect(sess, err)
			return
		}

		sess.touch()
		s.metrics.RecordRequest(req.Action)
		debugLog.Printf("Session %d ← RECV: action=%s", sess.ID, req.Action)

		resp := s.dispatch(sess, &req)
		if resp.Status == protocol.StatusError {
			s.metrics.RecordRequestError(req.Action)
		}

		if err := sess.Conn.WriteEnvelope(resp); err != nil {
			debugLog.Printf("Session %d: response write failed: %v", sess.ID, err)
			return
		}
	}
}

func (s *Server) logDisconnect(sess *Session, err error) {
	switch {
	case err == io.EOF:
		debugLog.Printf("Session %d: client disconnected", sess.ID)
	case errors.Is(err, io.ErrUnexpectedEOF):
		debugLog.Printf("Session %d: client disconnected mid-envelope", sess.ID)
	case errors.Is(err, protocol.ErrEnvelopeTooLarge), errors.Is(err, protocol.ErrInvalidEnvelopeLength):
		errorLog.Printf("Session %d: protocol violation, dropping connection: %v", sess.ID, err)
	default:
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			debugLog.Printf("Session %d: idle timeout, dropping connection", sess.ID)
			return
		}
		debugLog.Printf("Session %d: read error: %v", sess.ID, err)
	}
}

// statsLoggingLoop periodically logs key runtime numbers.
func (s *Server) statsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			log.Printf("[STATS] online users: %d, connections: %d, goroutines: %d",
				s.registry.CountOnline(), len(s.registry.All()), runtime.NumGoroutine())
		}
	}
}
