// Package dummy serves an in-memory ledger over HTTP so the load generator can
// be pointed at a network collaborator without a real database.
package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"xferbench/internal/backend/httpapi"
	"xferbench/internal/backend/memory"
	"xferbench/internal/outcome"
)

type ServerConfig struct {
	Port int
	// Profile is one of fast, medium, slow, spike.
	Profile      string
	ConflictRate float64
}

// Profile returns the latency model behind a profile name.
func Profile(name string) (memory.Options, error) {
	switch name {
	case "", "fast":
		return memory.Options{Latency: time.Millisecond, Jitter: 4 * time.Millisecond}, nil
	case "medium":
		return memory.Options{Latency: 100 * time.Millisecond, Jitter: 200 * time.Millisecond}, nil
	case "slow":
		return memory.Options{Latency: time.Second, Jitter: time.Second}, nil
	case "spike":
		// p50 stays fine, p99 is terrible
		return memory.Options{
			Latency:          20 * time.Millisecond,
			SpikeProbability: 0.05,
			SpikeLatency:     2 * time.Second,
		}, nil
	}
	return memory.Options{}, errors.Newf("unknown profile %q (expected fast, medium, slow or spike)", name)
}

type Server struct {
	Ledger *memory.Ledger
	srv    *http.Server
	ln     net.Listener
	log    *zap.Logger
}

// NewServer builds the handler around a fresh ledger.
func NewServer(cfg ServerConfig, log *zap.Logger) (*Server, error) {
	opts, err := Profile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	opts.ConflictRate = cfg.ConflictRate

	s := &Server{
		Ledger: memory.New(opts),
		log:    log.With(zap.String("component", "dummy")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transfer", s.handleTransfer)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.srv.Addr)
	}
	s.ln = ln
	s.log.Info("dummy ledger listening",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("endpoints", []string{"/transfer", "/reset", "/balance", "/healthz"}))

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req httpapi.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := s.Ledger.Transfer(r.Context(), req.Source, req.Destination, req.Amount)

	status := http.StatusOK
	if out.Kind == outcome.Failed {
		status = http.StatusConflict
		if out.Reason != outcome.SerializationConflict {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, httpapi.TransferResponse{Result: httpapi.ResultName(out)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req httpapi.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Ledger.Reset(r.Context(), req.NumAccounts, req.InitialBalance); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Info("ledger reset", zap.Int("accounts", req.NumAccounts), zap.Int64("initial_balance", req.InitialBalance))
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	total, err := s.Ledger.TotalBalance(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.BalanceResponse{Total: total})
}
