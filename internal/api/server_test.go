package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agenttrust/backend/internal/store"
)

type fakeBackend struct {
	wallets  map[string]*store.Wallet
	history  map[string][]store.Snapshot
	keys        map[string]*store.APIKey
	usage       map[string]int
	webhooks    []store.Webhook
	feedback    []store.Feedback
	feedbackErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		wallets: map[string]*store.Wallet{},
		history: map[string][]store.Snapshot{},
		keys:    map[string]*store.APIKey{},
		usage:   map[string]int{},
	}
}

func (f *fakeBackend) GetWallet(ctx context.Context, address string) (*store.Wallet, error) {
	return f.wallets[address], nil
}

func (f *fakeBackend) History(ctx context.Context, address string, limit int) ([]store.Snapshot, error) {
	return f.history[address], nil
}

func (f *fakeBackend) ScoreDistribution(ctx context.Context) (map[int]int, error) {
	return map[int]int{80: 2, 50: 5, 20: 3, 0: 1}, nil
}

func (f *fakeBackend) CountTransactions(ctx context.Context) (int64, error) { return 42, nil }
func (f *fakeBackend) CountFeedback(ctx context.Context) (int64, error)     { return 7, nil }

func (f *fakeBackend) GetAPIKey(ctx context.Context, keyID string) (*store.APIKey, error) {
	return f.keys[keyID], nil
}

func (f *fakeBackend) IncrementUsage(ctx context.Context, keyID string, day time.Time) (int, error) {
	f.usage[keyID]++
	return f.usage[keyID], nil
}

func (f *fakeBackend) CreateWebhook(ctx context.Context, wh store.Webhook) error {
	f.webhooks = append(f.webhooks, wh)
	return nil
}

func (f *fakeBackend) InsertAPIFeedback(ctx context.Context, fb store.Feedback) (bool, error) {
	if f.feedbackErr != nil {
		return false, f.feedbackErr
	}
	for _, existing := range f.feedback {
		if existing.TxHash == fb.TxHash && existing.FeedbackIndex == fb.FeedbackIndex {
			return false, nil
		}
	}
	f.feedback = append(f.feedback, fb)
	return true, nil
}

func (f *fakeBackend) DeleteWebhook(ctx context.Context, id, apiKeyID string) (bool, error) {
	for i, wh := range f.webhooks {
		if wh.ID == id && wh.APIKeyID == apiKeyID {
			f.webhooks = append(f.webhooks[:i], f.webhooks[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

const (
	testKeyID  = "key-1"
	testSecret = "s3cret"
	testHeader = testKeyID + "." + testSecret
)

func withKey(t *testing.T, backend *fakeBackend, quota int) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	backend.keys[testKeyID] = &store.APIKey{
		KeyID:      testKeyID,
		KeyHash:    string(hash),
		Tier:       "free",
		DailyQuota: quota,
		IsActive:   true,
	}
}

func intPtr(n int) *int { return &n }

const walletAddr = "0xb794f5ea0ba39494ce839613fffba74279579268"

func scoredWallet() *store.Wallet {
	scoredAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	role := store.RoleBoth
	return &store.Wallet{
		Address:     walletAddr,
		Source:      store.SourceBoth,
		Chain:       "base",
		TxCount:     10,
		FirstSeenAt: scoredAt.AddDate(0, -3, 0),
		LastSeenAt:  scoredAt,
		TrustScore:  intPtr(54),
		ScoreBreakdown: map[string]int{
			"loyalty": 25, "activity": 50, "registered_bonus": 5,
		},
		ScoredAt: &scoredAt,
		Role:     &role,
	}
}

func doRequest(t *testing.T, backend *fakeBackend, method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	NewServer(backend, nil).Router().ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// auth and quota
// ---------------------------------------------------------------------------

func TestMissingAPIKeyRejected(t *testing.T) {
	backend := newFakeBackend()
	rec := doRequest(t, backend, "GET", "/api/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongSecretRejected(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	rec := doRequest(t, backend, "GET", "/api/v1/stats", testKeyID+".wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownKeyRejected(t *testing.T) {
	backend := newFakeBackend()
	rec := doRequest(t, backend, "GET", "/api/v1/stats", "nope."+testSecret, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuotaExhaustionReturns429(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 2)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, backend, "GET", "/api/v1/stats", testHeader, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doRequest(t, backend, "GET", "/api/v1/stats", testHeader, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthzOpenWithoutKey(t *testing.T) {
	rec := doRequest(t, newFakeBackend(), "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ---------------------------------------------------------------------------
// wallet endpoints
// ---------------------------------------------------------------------------

func TestScoreEndpoint(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	backend.wallets[walletAddr] = scoredWallet()

	rec := doRequest(t, backend, "GET", "/api/v1/wallets/"+walletAddr+"/score", testHeader, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, walletAddr, resp.Address)
	assert.Equal(t, 54, *resp.TrustScore)
	assert.Equal(t, "MEDIUM", *resp.Tier)
	assert.Equal(t, store.RoleBoth, *resp.Role)
	assert.Equal(t, 5, resp.Breakdown["registered_bonus"])
}

func TestScoreInvalidAddress(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	rec := doRequest(t, backend, "GET", "/api/v1/wallets/not-an-address/score", testHeader, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoreUnknownWallet(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	rec := doRequest(t, backend, "GET", "/api/v1/wallets/"+walletAddr+"/score", testHeader, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnscoredWalletHasNullScore(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	w := scoredWallet()
	w.TrustScore = nil
	w.ScoreBreakdown = nil
	w.ScoredAt = nil
	backend.wallets[walletAddr] = w

	rec := doRequest(t, backend, "GET", "/api/v1/wallets/"+walletAddr+"/score", testHeader, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.TrustScore)
	assert.Nil(t, resp.Tier)
}

func TestHistoryEndpoint(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	backend.wallets[walletAddr] = scoredWallet()
	backend.history[walletAddr] = []store.Snapshot{
		{Score: 54, ComputedAt: time.Now()},
		{Score: 40, ComputedAt: time.Now().Add(-24 * time.Hour)},
	}

	rec := doRequest(t, backend, "GET", "/api/v1/wallets/"+walletAddr+"/history", testHeader, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Address string         `json:"address"`
		History []historyEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 2)
	assert.Equal(t, 54, resp.History[0].Score)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	backend.wallets[walletAddr] = scoredWallet()

	rec := doRequest(t, backend, "GET", "/api/v1/wallets/"+walletAddr+"/history?limit=9999", testHeader, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// webhooks
// ---------------------------------------------------------------------------

func TestCreateWebhook(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	body, _ := json.Marshal(createWebhookRequest{
		URL:       "https://example.com/hook",
		EventType: store.EventScoreDrop,
		Threshold: intPtr(50),
	})
	rec := doRequest(t, backend, "POST", "/api/v1/webhooks", testHeader, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, backend.webhooks, 1)
	wh := backend.webhooks[0]
	assert.Equal(t, testKeyID, wh.APIKeyID)
	assert.Equal(t, store.EventScoreDrop, wh.EventType)
	assert.Equal(t, 50, *wh.Threshold)
	assert.NotEmpty(t, wh.ID)
}

func TestCreateWebhookValidation(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	cases := []createWebhookRequest{
		{URL: "ftp://example.com", EventType: store.EventScoreDrop},
		{URL: "https://example.com", EventType: "score_explode"},
		{URL: "https://example.com", EventType: store.EventScoreDrop, Threshold: intPtr(101)},
	}
	for _, c := range cases {
		body, _ := json.Marshal(c)
		rec := doRequest(t, backend, "POST", "/api/v1/webhooks", testHeader, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Empty(t, backend.webhooks)
}

func TestDeleteWebhookScopedToKey(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)
	backend.webhooks = []store.Webhook{
		{ID: "wh-1", APIKeyID: testKeyID},
		{ID: "wh-2", APIKeyID: "someone-else"},
	}

	rec := doRequest(t, backend, "DELETE", "/api/v1/webhooks/wh-1", testHeader, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A key cannot delete another key's webhook.
	rec = doRequest(t, backend, "DELETE", "/api/v1/webhooks/wh-2", testHeader, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, backend.webhooks, 1)
}

// ---------------------------------------------------------------------------
// feedback
// ---------------------------------------------------------------------------

const feedbackTxHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestSubmitFeedback(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	body, _ := json.Marshal(submitFeedbackRequest{
		TxHash:        feedbackTxHash,
		AgentID:       42,
		ClientAddress: walletAddr,
		Value:         4.5,
	})
	rec := doRequest(t, backend, "POST", "/api/v1/feedback", testHeader, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, backend.feedback, 1)
	fb := backend.feedback[0]
	assert.Equal(t, feedbackTxHash, fb.TxHash)
	assert.Equal(t, int64(42), fb.AgentID)
	// 4.5 stored as fixed-point 450 with 2 decimals.
	assert.Equal(t, "450", fb.Value.String())
	assert.Equal(t, 2, fb.ValueDecimals)
	assert.Equal(t, apiFeedbackIndex, fb.FeedbackIndex)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	cases := []submitFeedbackRequest{
		{TxHash: "0xshort", AgentID: 1, ClientAddress: walletAddr, Value: 3},
		{TxHash: feedbackTxHash, AgentID: 1, ClientAddress: "nope", Value: 3},
		{TxHash: feedbackTxHash, AgentID: 1, ClientAddress: walletAddr, Value: 5.5},
		{TxHash: feedbackTxHash, AgentID: -2, ClientAddress: walletAddr, Value: 3},
	}
	for _, c := range cases {
		body, _ := json.Marshal(c)
		rec := doRequest(t, backend, "POST", "/api/v1/feedback", testHeader, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Empty(t, backend.feedback)
}

func TestSubmitFeedbackDuplicateConflicts(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	body, _ := json.Marshal(submitFeedbackRequest{
		TxHash:        feedbackTxHash,
		AgentID:       42,
		ClientAddress: walletAddr,
		Value:         4,
	})
	rec := doRequest(t, backend, "POST", "/api/v1/feedback", testHeader, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, backend, "POST", "/api/v1/feedback", testHeader, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ---------------------------------------------------------------------------
// stats
// ---------------------------------------------------------------------------

func TestStatsEndpoint(t *testing.T) {
	backend := newFakeBackend()
	withKey(t, backend, 100)

	rec := doRequest(t, backend, "GET", "/api/v1/stats", testHeader, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tiers        map[string]int `json:"tiers"`
		Transactions int64          `json:"transactions"`
		Feedback     int64          `json:"feedback"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Tiers["HIGH"])
	assert.Equal(t, 5, resp.Tiers["MEDIUM"])
	assert.Equal(t, int64(42), resp.Transactions)
	assert.Equal(t, int64(7), resp.Feedback)
}
