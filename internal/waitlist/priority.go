package waitlist

import "time"

const (
	urgentBonus       = 30
	maxManualBoost    = 40
	maxSeniorityBonus = 10
)

// Score computes an entry's priority. It is deterministic and has no I/O:
// the same entry and clock always produce the same value.
//
//   - urgent entries get +30
//   - the staff-assigned manual boost (0..40) is added as-is
//   - entries whose current appointment is far out get a distance bonus:
//     +20 at 180+ days, +10 at 90+, +5 at 30+
//   - every full 30 days spent on the waitlist adds +1, capped at +10
func Score(e Entry, now time.Time) int {
	score := 0

	if e.Urgent {
		score += urgentBonus
	}

	score += e.ManualBoost

	if e.TargetApptAt != nil {
		daysUntil := fullDays(now, *e.TargetApptAt)
		switch {
		case daysUntil >= 180:
			score += 20
		case daysUntil >= 90:
			score += 10
		case daysUntil >= 30:
			score += 5
		}
	}

	seniority := fullDays(e.JoinedAt, now) / 30
	if seniority > maxSeniorityBonus {
		seniority = maxSeniorityBonus
	}
	if seniority > 0 {
		score += seniority
	}

	return score
}

// fullDays returns the number of whole 24h periods from a to b.
func fullDays(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		return -int((-d).Hours() / 24)
	}
	return int(d.Hours() / 24)
}
