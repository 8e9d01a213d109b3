package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ochenane/simple-auction/auction"
	"github.com/ochenane/simple-auction/config"
	"github.com/ochenane/simple-auction/logger"

	"github.com/gorilla/mux"
)

// Server exposes the coordinator over HTTP. Everything under /auction
// requires a valid token; /admin additionally requires the admin flag.
type Server struct {
	srv *http.Server
}

func New(cfg config.ServerConfig, authCfg config.AuthConfig, coord *auction.Coordinator, users UserStore) *Server {
	h := &handler{coord: coord}
	a := newAuth(authCfg, users)

	r := mux.NewRouter()
	r.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	auctionRoutes := r.PathPrefix("/auction").Subrouter()
	auctionRoutes.Use(a.protected)
	auctionRoutes.HandleFunc("/{id:[0-9]+}", h.status).Methods(http.MethodGet)
	auctionRoutes.HandleFunc("/{id:[0-9]+}/bids", h.history).Methods(http.MethodGet)
	auctionRoutes.HandleFunc("/{id:[0-9]+}/bids/create", h.prepareBid).Methods(http.MethodPost)
	auctionRoutes.HandleFunc("/{id:[0-9]+}/bids/send", h.submitBid).Methods(http.MethodPost)
	auctionRoutes.HandleFunc("/{id:[0-9]+}/bids/{bidId:[0-9]+}/withdraw/create", h.prepareWithdrawal).Methods(http.MethodPost)
	auctionRoutes.HandleFunc("/{id:[0-9]+}/bids/{bidId:[0-9]+}/withdraw/send", h.submitWithdrawal).Methods(http.MethodPost)

	adminRoutes := r.PathPrefix("/admin").Subrouter()
	adminRoutes.Use(a.protected, a.adminOnly)
	adminRoutes.HandleFunc("/auction/deploy", h.deploy).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/auction/end", h.end).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/auction/{id:[0-9]+}/reconcile", h.reconcile).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // deploy waits for chain inclusion
		Handler:      r,
	}

	return &Server{srv: srv}
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", s.srv.Addr)
		errChan <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
