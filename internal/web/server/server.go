// Package server runs the page server with production timeouts and graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds server configuration.
type Config struct {
	// Address is the listen address, e.g. ":8080".
	Address string
	Handler http.Handler

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	Logger *zap.Logger
}

// DefaultConfig returns production timeouts for handler.
func DefaultConfig(handler http.Handler) Config {
	return Config{
		Address:           ":8080",
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Server wraps an http.Server.
type Server struct {
	http     *http.Server
	cfg      Config
	listener net.Listener
	logger   *zap.Logger
}

// New validates cfg and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("tls requires both cert file and key file")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &http.Server{
		Addr:              cfg.Address,
		Handler:           cfg.Handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(cfg.Logger.Named("http")),
	}
	if cfg.CertFile != "" {
		s.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, NextProtos: []string{"h2", "http/1.1"}}
	}
	return &Server{http: s, cfg: cfg, logger: cfg.Logger.Named("server")}, nil
}

// Listen binds the address. Serve calls it when needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until Shutdown. It returns http.ErrServerClosed
// after a shutdown.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("listening", zap.String("addr", s.Addr()), zap.Bool("tls", s.cfg.CertFile != ""))
	if s.cfg.CertFile != "" {
		return s.http.ServeTLS(s.listener, s.cfg.CertFile, s.cfg.KeyFile)
	}
	return s.http.Serve(s.listener)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}
