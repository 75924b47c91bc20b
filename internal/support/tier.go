// Package support maps cumulative payments to supporter tiers and applies
// confirmed payments to user records.
package support

// Tier is a display label derived from a user's cumulative support. It is
// never stored; call TierOf on the current total.
type Tier int

const (
	Baseline Tier = iota
	Supporter
	Premium
	VIP
	Champion
)

// PremiumThreshold is the cumulative amount from which relayed text and
// stickers carry the supporter annotation.
const PremiumThreshold = 50

// tierFloors lists inclusive lower bounds, highest first.
var tierFloors = []struct {
	min  int64
	tier Tier
}{
	{500, Champion},
	{100, VIP},
	{50, Premium},
	{25, Supporter},
}

// TierOf returns the tier for a cumulative support amount.
func TierOf(total int64) Tier {
	for _, f := range tierFloors {
		if total >= f.min {
			return f.tier
		}
	}
	return Baseline
}

// Annotated reports whether a sender with the given total gets the supporter
// annotation on relayed payloads.
func Annotated(total int64) bool {
	return total >= PremiumThreshold
}

func (t Tier) String() string {
	switch t {
	case Baseline:
		return "baseline"
	case Supporter:
		return "supporter"
	case Premium:
		return "premium"
	case VIP:
		return "vip"
	case Champion:
		return "champion"
	default:
		return "unknown"
	}
}

// Benefits lists the perks unlocked at a tier. Any confirmed payment unlocks
// priority matching, so even Baseline supporters get the first entry.
func (t Tier) Benefits() []string {
	benefits := []string{"priority_matching"}
	if t >= Supporter {
		benefits = append(benefits, "supporter_badge")
	}
	if t >= Premium {
		benefits = append(benefits, "premium_annotation")
	}
	if t >= VIP {
		benefits = append(benefits, "vip_status")
	}
	if t >= Champion {
		benefits = append(benefits, "champion_status")
	}
	return benefits
}
