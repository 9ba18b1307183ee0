// Package inspect serves a running System's statistics over HTTP/3
// for external monitoring while a workload executes.
package inspect

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/vm"
)

// Server wraps http3.Server lifecycle around the stats handler.
type Server struct {
	pc   net.PacketConn
	srv  *http3.Server
	errC chan error
	addr string
	log  *zap.Logger
}

// Options configures quic-go for the endpoint.
type Options struct {
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
}

// NewServer creates a server bound to addr exposing sys's statistics.
// TLS 1.3 is enforced as required by QUIC.
func NewServer(addr string, tlsCfg *tls.Config, sys *vm.System, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	} else if tlsCfg.MinVersion == 0 || tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13
		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{"h3"}
		}
		tlsCfg = c
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sys.Stats()); err != nil {
			log.Warn("encode stats", zap.Error(err))
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	qc := &quic.Config{}
	if opts.MaxIdleTimeout > 0 {
		qc.MaxIdleTimeout = opts.MaxIdleTimeout
	}
	if opts.KeepAlivePeriod > 0 {
		qc.KeepAlivePeriod = opts.KeepAlivePeriod
	}

	s := &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: mux, QUICConfig: qc}
	return &Server{srv: s, addr: addr, errC: make(chan error, 1), log: log}
}

// Start begins serving on the configured address; with a ":0" suffix
// an ephemeral UDP port is chosen and Addr reports it.
func (s *Server) Start() (string, error) {
	var err error
	s.pc, err = net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.addr = s.pc.LocalAddr().String()
	go func() {
		s.errC <- s.srv.Serve(s.pc)
	}()
	s.log.Info("inspect endpoint up", zap.String("addr", s.addr))
	return s.addr, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.addr }

// Err exposes the serve loop's terminal error.
func (s *Server) Err() <-chan error { return s.errC }

// Close shuts the server down.
func (s *Server) Close() error {
	err := s.srv.Close()
	if s.pc != nil {
		s.pc.Close()
	}
	return err
}

// Client returns an HTTP client speaking HTTP/3, enforcing TLS 1.3.
func Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13}
	} else if tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13
		tlsCfg = c
	}
	return &http.Client{
		Transport: &http3.Transport{TLSClientConfig: tlsCfg},
		Timeout:   timeout,
	}
}
