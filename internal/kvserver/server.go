// Package kvserver implements the in-memory key/value target the harness
// benchmarks against: a TCP server speaking the length-prefixed binary
// protocol, with optional artificial latency and failure injection so local
// runs can exercise slow and degraded targets.
package kvserver

import (
	"bufio"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"swarm/internal/protocol"
)

// Config controls the server's listen address and response behavior.
type Config struct {
	Addr string

	// Latency is a fixed artificial delay applied to every request; Jitter
	// adds a uniform random amount in [0, Jitter) on top of it.
	Latency time.Duration
	Jitter  time.Duration

	// ErrorRate is the fraction of requests answered with an error status
	// instead of being executed. 0 disables injection.
	ErrorRate float64
}

type Server struct {
	cfg Config
	log logrus.FieldLogger

	ln net.Listener

	mu    sync.Mutex
	data  map[string]string
	conns map[net.Conn]struct{}

	wg      sync.WaitGroup
	closing chan struct{}
}

func New(cfg Config, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		data:    make(map[string]string),
		conns:   make(map[net.Conn]struct{}),
		closing: make(chan struct{}),
	}
}

// Start begins listening and serving. It returns once the listener is
// ready, so callers can connect immediately after.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	s.ln = ln
	s.log.WithField("addr", ln.Addr().String()).Info("kv server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, useful when Config.Addr used port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Close stops the listener, tears down open connections and waits for the
// connection goroutines to exit.
func (s *Server) Close() error {
	close(s.closing)
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				return
			}
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	br := bufio.NewReader(conn)
	for {
		cmd, err := protocol.ReadRequest(br)
		if err != nil {
			return
		}
		s.delay()
		if err := protocol.WriteResponse(conn, s.dispatch(cmd)); err != nil {
			return
		}
	}
}

func (s *Server) delay() {
	d := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
	}
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Server) dispatch(cmd []string) protocol.Response {
	if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
		return protocol.Response{Status: protocol.StatusErr, Data: []byte("injected error")}
	}

	switch {
	case len(cmd) == 2 && cmd[0] == "get":
		s.mu.Lock()
		val, ok := s.data[cmd[1]]
		s.mu.Unlock()
		if !ok {
			return protocol.Response{Status: protocol.StatusNotFound}
		}
		return protocol.Response{Status: protocol.StatusOK, Data: []byte(val)}
	case len(cmd) == 3 && cmd[0] == "set":
		s.mu.Lock()
		s.data[cmd[1]] = cmd[2]
		s.mu.Unlock()
		return protocol.Response{Status: protocol.StatusOK}
	case len(cmd) == 2 && cmd[0] == "del":
		s.mu.Lock()
		delete(s.data, cmd[1])
		s.mu.Unlock()
		return protocol.Response{Status: protocol.StatusOK}
	default:
		return protocol.Response{Status: protocol.StatusErr, Data: []byte("unknown command")}
	}
}
