package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/agenttrust/backend/internal/scoring"
	"github.com/agenttrust/backend/internal/store"
)

type scoreResponse struct {
	Address     string         `json:"address"`
	Source      string         `json:"source"`
	Chain       string         `json:"chain"`
	TxCount     int64          `json:"tx_count"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	TrustScore  *int           `json:"trust_score"`
	Tier        *string        `json:"tier,omitempty"`
	Breakdown   map[string]int `json:"breakdown,omitempty"`
	Role        *string        `json:"role,omitempty"`
	ScoredAt    *time.Time     `json:"scored_at,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	wallet, err := s.backend.GetWallet(r.Context(), address)
	if err != nil {
		s.logger.Printf("❌ wallet lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	resp := scoreResponse{
		Address:     wallet.Address,
		Source:      wallet.Source,
		Chain:       wallet.Chain,
		TxCount:     wallet.TxCount,
		FirstSeenAt: wallet.FirstSeenAt,
		LastSeenAt:  wallet.LastSeenAt,
		TrustScore:  wallet.TrustScore,
		Breakdown:   wallet.ScoreBreakdown,
		Role:        wallet.Role,
		ScoredAt:    wallet.ScoredAt,
	}
	if wallet.TrustScore != nil {
		tier := scoring.Tier(*wallet.TrustScore)
		resp.Tier = &tier
	}
	writeJSON(w, http.StatusOK, resp)
}

type historyEntry struct {
	Score      int            `json:"score"`
	Breakdown  map[string]int `json:"breakdown,omitempty"`
	ComputedAt time.Time      `json:"computed_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,365]")
			return
		}
		limit = n
	}

	wallet, err := s.backend.GetWallet(r.Context(), address)
	if err != nil {
		s.logger.Printf("❌ wallet lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	snaps, err := s.backend.History(r.Context(), address, limit)
	if err != nil {
		s.logger.Printf("❌ history lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := make([]historyEntry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, historyEntry{
			Score:      snap.Score,
			Breakdown:  snap.Breakdown,
			ComputedAt: snap.ComputedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": strings.ToLower(address),
		"history": entries,
	})
}

// API-submitted feedback occupies a reserved index so it never collides
// with on-chain rows, whose index is the log position. One API review per
// transaction.
const apiFeedbackIndex = -1

type submitFeedbackRequest struct {
	TxHash        string  `json:"tx_hash"`
	AgentID       int64   `json:"agent_id"`
	ClientAddress string  `json:"client_address"`
	Value         float64 `json:"value"`
	Tag1          *string `json:"tag1"`
	Tag2          *string `json:"tag2"`
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !common.IsHexAddress(req.ClientAddress) {
		writeError(w, http.StatusBadRequest, "invalid client address")
		return
	}
	if len(req.TxHash) != 66 || !strings.HasPrefix(req.TxHash, "0x") {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}
	if req.Value < 0 || req.Value > 5 {
		writeError(w, http.StatusBadRequest, "value must be in [0,5]")
		return
	}
	if req.AgentID < 0 {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	fb := store.Feedback{
		TxHash:        strings.ToLower(req.TxHash),
		FeedbackIndex: apiFeedbackIndex,
		AgentID:       req.AgentID,
		ClientAddress: strings.ToLower(req.ClientAddress),
		Value:         decimal.NewFromFloat(req.Value).Round(2).Shift(2),
		ValueDecimals: 2,
		Tag1:          req.Tag1,
		Tag2:          req.Tag2,
	}
	inserted, err := s.backend.InsertAPIFeedback(r.Context(), fb)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !inserted {
		writeError(w, http.StatusConflict, "feedback already submitted for this transaction")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type createWebhookRequest struct {
	URL           string  `json:"url"`
	WalletAddress *string `json:"wallet_address"`
	EventType     string  `json:"event_type"`
	Threshold     *int    `json:"threshold"`
	Secret        string  `json:"secret"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeError(w, http.StatusBadRequest, "url must be http(s)")
		return
	}
	switch req.EventType {
	case store.EventScoreChange, store.EventScoreDrop, store.EventScoreRise:
	default:
		writeError(w, http.StatusBadRequest, "event_type must be score_change, score_drop or score_rise")
		return
	}
	if req.WalletAddress != nil && !common.IsHexAddress(*req.WalletAddress) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 100) {
		writeError(w, http.StatusBadRequest, "threshold must be in [0,100]")
		return
	}

	key := keyFromContext(r.Context())
	wh := store.Webhook{
		ID:            uuid.NewString(),
		APIKeyID:      key.KeyID,
		URL:           req.URL,
		WalletAddress: req.WalletAddress,
		EventType:     req.EventType,
		Threshold:     req.Threshold,
		Secret:        req.Secret,
	}
	if err := s.backend.CreateWebhook(r.Context(), wh); err != nil {
		s.logger.Printf("❌ webhook create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Printf("✅ webhook %s registered for key %s (%s)", wh.ID, key.KeyID, wh.EventType)
	writeJSON(w, http.StatusCreated, map[string]string{"id": wh.ID})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	key := keyFromContext(r.Context())

	removed, err := s.backend.DeleteWebhook(r.Context(), id, key.KeyID)
	if err != nil {
		s.logger.Printf("❌ webhook delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dist, err := s.backend.ScoreDistribution(r.Context())
	if err != nil {
		s.logger.Printf("❌ distribution query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	txCount, err := s.backend.CountTransactions(r.Context())
	if err != nil {
		s.logger.Printf("❌ transaction count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	fbCount, err := s.backend.CountFeedback(r.Context())
	if err != nil {
		s.logger.Printf("❌ feedback count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": map[string]int{
			scoring.TierHigh:    dist[80],
			scoring.TierMedium:  dist[50],
			scoring.TierLow:     dist[20],
			scoring.TierMinimal: dist[0],
		},
		"transactions": txCount,
		"feedback":     fbCount,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
