package orders

import "time"

type CountdownTier string

const (
	TierSafe    CountdownTier = "safe"
	TierCaution CountdownTier = "caution"
	TierWarning CountdownTier = "warning"
	TierExpired CountdownTier = "expired"
)

// Countdown is the presentational payment deadline of an unpaid order.
type Countdown struct {
	Remaining time.Duration `json:"remaining"`
	Tier      CountdownTier `json:"tier"`
}

func CountdownFor(expiresAt time.Time, now time.Time) Countdown {
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Countdown{Remaining: remaining, Tier: TierFor(remaining)}
}

func TierFor(remaining time.Duration) CountdownTier {
	switch {
	case remaining <= 0:
		return TierExpired
	case remaining < 2*time.Minute:
		return TierWarning
	case remaining < 5*time.Minute:
		return TierCaution
	default:
		return TierSafe
	}
}

// ShiftStart is local midnight of the day containing now.
func ShiftStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
