package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrust/backend/internal/scoring"
	"github.com/agenttrust/backend/internal/store"
)

func init() {
	baseBackoff = time.Millisecond
}

type fakeWebhookStore struct {
	hooks     []store.Webhook
	successes []string
	failures  map[string]int
	disableAt int
}

func (f *fakeWebhookStore) ActiveWebhooks(ctx context.Context) ([]store.Webhook, error) {
	return f.hooks, nil
}

func (f *fakeWebhookStore) MarkWebhookSuccess(ctx context.Context, id string) error {
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakeWebhookStore) MarkWebhookFailure(ctx context.Context, id string) (bool, error) {
	if f.failures == nil {
		f.failures = map[string]int{}
	}
	f.failures[id]++
	if f.disableAt > 0 && f.failures[id] >= f.disableAt {
		return false, nil
	}
	return true, nil
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func hook(id, url, event string, threshold *int) store.Webhook {
	return store.Webhook{
		ID:        id,
		URL:       url,
		EventType: event,
		Threshold: threshold,
		IsActive:  true,
	}
}

func drop(address string, old, new int) scoring.Delta {
	return scoring.Delta{Address: address, Old: intPtr(old), New: new, Tier: scoring.Tier(new)}
}

// ---------------------------------------------------------------------------
// matching
// ---------------------------------------------------------------------------

func TestMatchesDropCrossingThreshold(t *testing.T) {
	h := hook("w1", "http://x", store.EventScoreDrop, intPtr(50))

	// 85 → 49 crosses 50 downward.
	assert.True(t, Matches(&h, drop("0xa", 85, 49)))

	// 49 → 40 stays below the threshold.
	assert.False(t, Matches(&h, drop("0xa", 49, 40)))

	// 85 → 60 drops but never crosses.
	assert.False(t, Matches(&h, drop("0xa", 85, 60)))

	// A rise never matches a drop subscription.
	assert.False(t, Matches(&h, drop("0xa", 40, 90)))
}

func TestMatchesRise(t *testing.T) {
	h := hook("w1", "http://x", store.EventScoreRise, intPtr(50))

	assert.True(t, Matches(&h, drop("0xa", 40, 90)))
	assert.False(t, Matches(&h, drop("0xa", 85, 49)))
	assert.False(t, Matches(&h, drop("0xa", 60, 90))) // already above

	noThreshold := hook("w2", "http://x", store.EventScoreRise, nil)
	assert.True(t, Matches(&noThreshold, drop("0xa", 40, 41)))
	assert.False(t, Matches(&noThreshold, drop("0xa", 41, 41)))
}

func TestMatchesChange(t *testing.T) {
	h := hook("w1", "http://x", store.EventScoreChange, nil)

	assert.True(t, Matches(&h, drop("0xa", 40, 41)))
	assert.True(t, Matches(&h, drop("0xa", 41, 40)))
	assert.False(t, Matches(&h, drop("0xa", 40, 40)))

	// Threshold on a change event matches either crossing direction.
	th := hook("w2", "http://x", store.EventScoreChange, intPtr(50))
	assert.True(t, Matches(&th, drop("0xa", 49, 51)))
	assert.True(t, Matches(&th, drop("0xa", 51, 49)))
	assert.False(t, Matches(&th, drop("0xa", 51, 60)))
}

func TestMatchesFirstScore(t *testing.T) {
	first := scoring.Delta{Address: "0xa", New: 70, Tier: scoring.TierMedium}

	dropHook := hook("w1", "http://x", store.EventScoreDrop, nil)
	riseHook := hook("w2", "http://x", store.EventScoreRise, nil)
	changeHook := hook("w3", "http://x", store.EventScoreChange, intPtr(50))

	// Without a prior score only change fires, threshold ignored.
	assert.False(t, Matches(&dropHook, first))
	assert.False(t, Matches(&riseHook, first))
	assert.True(t, Matches(&changeHook, first))
}

func TestMatchesWalletFilter(t *testing.T) {
	h := hook("w1", "http://x", store.EventScoreChange, nil)
	h.WalletAddress = strPtr("0xaaa")

	assert.True(t, Matches(&h, drop("0xaaa", 10, 20)))
	assert.False(t, Matches(&h, drop("0xbbb", 10, 20)))
}

func TestMatchesInactiveHook(t *testing.T) {
	h := hook("w1", "http://x", store.EventScoreChange, nil)
	h.IsActive = false
	assert.False(t, Matches(&h, drop("0xa", 10, 20)))
}

// ---------------------------------------------------------------------------
// delivery
// ---------------------------------------------------------------------------

func TestDispatchDeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Trust-Signature")
		gotEvent = r.Header.Get("X-Trust-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := hook("w1", srv.URL, store.EventScoreDrop, intPtr(50))
	h.Secret = "topsecret"
	db := &fakeWebhookStore{hooks: []store.Webhook{h}}

	err := NewDispatcher(db).Dispatch(context.Background(), []scoring.Delta{drop("0xaaa", 85, 49)})
	require.NoError(t, err)

	var payload Payload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, store.EventScoreDrop, payload.Event)
	assert.Equal(t, "0xaaa", payload.Address)
	assert.Equal(t, 85, *payload.OldScore)
	assert.Equal(t, 49, payload.NewScore)
	assert.Equal(t, scoring.TierLow, payload.Tier)
	assert.Equal(t, 50, *payload.Threshold)
	assert.False(t, payload.Timestamp.IsZero())

	assert.Equal(t, store.EventScoreDrop, gotEvent)
	assert.Equal(t, "sha256="+SignPayload(gotBody, "topsecret"), gotSig)
	assert.Equal(t, []string{"w1"}, db.successes)
}

func TestDispatchScenarioDropDeliversRiseDoesNot(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	db := &fakeWebhookStore{hooks: []store.Webhook{
		hook("dropper", srv.URL, store.EventScoreDrop, intPtr(50)),
		hook("riser", srv.URL, store.EventScoreRise, nil),
	}}

	err := NewDispatcher(db).Dispatch(context.Background(), []scoring.Delta{drop("0xaaa", 85, 49)})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, []string{"dropper"}, db.successes)
	assert.Empty(t, db.failures)
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := &fakeWebhookStore{hooks: []store.Webhook{
		hook("w1", srv.URL, store.EventScoreChange, nil),
	}}

	err := NewDispatcher(db).Dispatch(context.Background(), []scoring.Delta{drop("0xaaa", 10, 20)})
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []string{"w1"}, db.successes)
	assert.Empty(t, db.failures)
}

func TestDispatchMarksFailureAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := &fakeWebhookStore{hooks: []store.Webhook{
		hook("w1", srv.URL, store.EventScoreChange, nil),
	}}

	err := NewDispatcher(db).Dispatch(context.Background(), []scoring.Delta{drop("0xaaa", 10, 20)})
	require.NoError(t, err)

	assert.Empty(t, db.successes)
	assert.Equal(t, 1, db.failures["w1"])
}

func TestDispatchStopsMatchingDisabledHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Store disables the hook after its first failure mark; the second
	// delta in the same pass must not be attempted against it.
	db := &fakeWebhookStore{
		hooks:     []store.Webhook{hook("w1", srv.URL, store.EventScoreChange, nil)},
		disableAt: 1,
	}

	err := NewDispatcher(db).Dispatch(context.Background(), []scoring.Delta{
		drop("0xaaa", 10, 20),
		drop("0xbbb", 30, 40),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, db.failures["w1"])
}

func TestDispatchNoDeltasNoStoreCalls(t *testing.T) {
	db := &fakeWebhookStore{hooks: []store.Webhook{
		hook("w1", "http://unreachable.invalid", store.EventScoreChange, nil),
	}}
	require.NoError(t, NewDispatcher(db).Dispatch(context.Background(), nil))
	assert.Empty(t, db.successes)
	assert.Empty(t, db.failures)
}
