// Package api exposes the scored wallet data over REST/JSON.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agenttrust/backend/internal/store"
)

// Backend is the store surface the API serves from.
type Backend interface {
	GetWallet(ctx context.Context, address string) (*store.Wallet, error)
	History(ctx context.Context, address string, limit int) ([]store.Snapshot, error)
	ScoreDistribution(ctx context.Context) (map[int]int, error)
	CountTransactions(ctx context.Context) (int64, error)
	CountFeedback(ctx context.Context) (int64, error)
	GetAPIKey(ctx context.Context, keyID string) (*store.APIKey, error)
	IncrementUsage(ctx context.Context, keyID string, day time.Time) (int, error)
	CreateWebhook(ctx context.Context, wh store.Webhook) error
	DeleteWebhook(ctx context.Context, id, apiKeyID string) (bool, error)
	InsertAPIFeedback(ctx context.Context, f store.Feedback) (bool, error)
}

// Server hosts the read API. The redis client is optional; when present
// it serves as the quota fast path.
type Server struct {
	backend Backend
	redis   *redis.Client
	logger  *log.Logger
}

func NewServer(backend Backend, rdb *redis.Client) *Server {
	return &Server{
		backend: backend,
		redis:   rdb,
		logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the route table. Everything under /api/v1 requires a key;
// health and metrics stay open for probes and scrapers.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/wallets/{address}/score", s.handleScore).Methods("GET")
	v1.HandleFunc("/wallets/{address}/history", s.handleHistory).Methods("GET")
	v1.HandleFunc("/feedback", s.handleSubmitFeedback).Methods("POST")
	v1.HandleFunc("/webhooks", s.handleCreateWebhook).Methods("POST")
	v1.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook).Methods("DELETE")
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")

	return r
}

// Start blocks serving HTTP until the listener fails.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Printf("🚀 read API listening on %s", addr)
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
