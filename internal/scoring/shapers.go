// Package scoring turns per-wallet signal bundles into a bounded trust
// score. Each shaper maps its signal into [0,100]; the engine combines
// them with fixed weights and a registration bonus.
package scoring

import (
	"math"
	"time"
)

// Signal weights. They sum to exactly 1.00.
const (
	WeightLoyalty   = 0.30
	WeightActivity  = 0.18
	WeightDiversity = 0.16
	WeightFeedback  = 0.15
	WeightVolume    = 0.10
	WeightRecency   = 0.06
	WeightAge       = 0.05
)

// Registration bonus added after the weighted sum, before the final clamp.
const registeredBonus = 5

// Signals is the per-wallet input bundle for one scoring pass.
type Signals struct {
	TxCount              int64
	FirstSeenAt          time.Time
	LastSeenAt           time.Time
	UniqueCounterparties int
	AvgFeedback          *float64
	FeedbackCount        int
	TotalVolumeUSDC      float64
	VolumeCounterparties int
	IsRegistered         bool
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// ActivityScore rewards early activity on a log curve that saturates
// around 100 transactions.
func ActivityScore(txCount int64) float64 {
	if txCount <= 0 {
		return 0
	}
	return clamp(100 * math.Log10(float64(txCount)) / math.Log10(100))
}

// DiversityScore rewards distinct counterparties, capping at 30.
func DiversityScore(counterparties int) float64 {
	if counterparties <= 0 {
		return 0
	}
	return clamp(100 * math.Log10(float64(counterparties)) / math.Log10(30))
}

// LoyaltyScore rewards repeat business per counterparty, with a hard cap
// of 40 on hyper-concentrated patterns (ratio above 20 against fewer than
// three counterparties) as a Sybil shield.
func LoyaltyScore(txCount int64, counterparties int) float64 {
	if txCount <= 1 || counterparties <= 0 {
		return 0
	}
	ratio := float64(txCount) / float64(counterparties)
	score := clamp(100 * (ratio - 1) / 4)
	if ratio > 20 && counterparties < 3 && score > 40 {
		score = 40
	}
	return score
}

// FeedbackScore is the confidence-weighted mean feedback: with no
// feedback the score is neutral (50), and up to ten reviews the raw mean
// is blended toward neutral so a single extreme review cannot dominate.
func FeedbackScore(avg *float64, count int) float64 {
	if count <= 0 || avg == nil {
		return 50
	}
	raw := math.Min(100, *avg/5*100)
	confidence := math.Min(1, float64(count)/10)
	return clamp(confidence*raw + (1-confidence)*50)
}

// VolumeScore is an economic-commitment proxy on a log curve saturating
// at 10,000 USDC. Wallets with no volume or no counterparties are
// neutral.
func VolumeScore(totalUSDC float64, counterparties int) float64 {
	if totalUSDC <= 0 || counterparties <= 0 {
		return 50
	}
	return clamp(100 * math.Log10(totalUSDC+1) / math.Log10(10001))
}

// AgeScore rewards account age on a log curve that saturates at 180 days.
func AgeScore(firstSeen, now time.Time) float64 {
	if firstSeen.IsZero() {
		return 0
	}
	days := now.Sub(firstSeen).Hours() / 24
	if days < 0 {
		return 0
	}
	if days < 1 {
		return 0
	}
	return clamp(100 * math.Log10(days) / math.Log10(180))
}

// RecencyScore penalizes staleness: full marks within a week, zero at 90
// days, linear in between.
func RecencyScore(lastSeen, now time.Time) float64 {
	if lastSeen.IsZero() {
		return 0
	}
	days := now.Sub(lastSeen).Hours() / 24
	if days < 0 {
		return 100
	}
	if days <= 7 {
		return 100
	}
	if days >= 90 {
		return 0
	}
	return clamp(100 * (90 - days) / (90 - 7))
}

// Compute applies every shaper, combines them with the weights, applies
// the registration bonus and clamps to [0,100]. The returned breakdown
// holds the integer-rounded per-signal outputs plus the bonus actually
// applied.
func Compute(sig Signals, now time.Time) (int, map[string]int) {
	loyalty := LoyaltyScore(sig.TxCount, sig.UniqueCounterparties)
	activity := ActivityScore(sig.TxCount)
	diversity := DiversityScore(sig.UniqueCounterparties)
	feedback := FeedbackScore(sig.AvgFeedback, sig.FeedbackCount)
	volume := VolumeScore(sig.TotalVolumeUSDC, sig.VolumeCounterparties)
	age := AgeScore(sig.FirstSeenAt, now)
	recency := RecencyScore(sig.LastSeenAt, now)

	weighted := loyalty*WeightLoyalty +
		activity*WeightActivity +
		diversity*WeightDiversity +
		feedback*WeightFeedback +
		volume*WeightVolume +
		recency*WeightRecency +
		age*WeightAge

	bonus := 0
	if sig.IsRegistered {
		bonus = registeredBonus
	}

	score := int(math.Round(weighted)) + bonus
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	breakdown := map[string]int{
		"loyalty":          int(math.Round(loyalty)),
		"activity":         int(math.Round(activity)),
		"diversity":        int(math.Round(diversity)),
		"feedback":         int(math.Round(feedback)),
		"volume":           int(math.Round(volume)),
		"age":              int(math.Round(age)),
		"recency":          int(math.Round(recency)),
		"registered_bonus": bonus,
	}
	return score, breakdown
}
