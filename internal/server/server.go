// Package server is the UDP/TCP front end: it wires miekg/dns's wire-format
// server onto the request handler, translating the external DNS library's
// listener/handler contract into calls on handler.Handler.
package server

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"

	"github.com/zh-yjie/ya-dns/internal/handler"
)

// idleTimeout closes a client TCP-DNS connection left idle for longer than
// this, per the front-end's resource model.
const idleTimeout = 10 * time.Second

// Server owns the UDP and TCP dns.Server instances bound to the same
// address and backed by the same Handler.
type Server struct {
	udp *dns.Server
	tcp *dns.Server
}

// New builds a Server listening on bind, dispatching every parsed request
// to h.
func New(bind string, h *handler.Handler) *Server {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		resp := h.Handle(context.Background(), r)
		if err := w.WriteMsg(resp); err != nil {
			log.Debug("server: writing response: %v", err)
		}
	})

	return &Server{
		udp: &dns.Server{Addr: bind, Net: "udp", Handler: mux},
		tcp: &dns.Server{
			Addr:        bind,
			Net:         "tcp",
			Handler:     mux,
			IdleTimeout: func() time.Duration { return idleTimeout },
		},
	}
}

// ListenAndServe starts both listeners and blocks until ctx is cancelled,
// at which point it shuts both down and returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops both listeners.
func (s *Server) Shutdown() error {
	return errors.Join(s.udp.Shutdown(), s.tcp.Shutdown())
}
