package scoring

// Trust tiers over the final score.
const (
	TierHigh    = "HIGH"
	TierMedium  = "MEDIUM"
	TierLow     = "LOW"
	TierMinimal = "MINIMAL"
)

// Tier maps a score to its band. Boundaries are inclusive on the lower
// edge: 80 is HIGH, 50 is MEDIUM, 20 is LOW.
func Tier(score int) string {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 50:
		return TierMedium
	case score >= 20:
		return TierLow
	default:
		return TierMinimal
	}
}
