package waitlist

import "strings"

// MatchesSlot reports whether a candidate's provider preferences admit the
// given slot. Slots without an assigned provider match everyone. An empty or
// "any" type preference matches everything; otherwise the candidate must
// either prefer the slot provider's type or name the provider explicitly.
func MatchesSlot(c Candidate, slot *CancellationSlot) bool {
	if slot.ProviderID == nil {
		return true
	}
	pref := strings.TrimSpace(c.ProviderTypePreference)
	if pref == "" || strings.EqualFold(pref, "any") {
		return true
	}
	if strings.EqualFold(pref, slot.ProviderType) {
		return true
	}
	for _, name := range c.ProviderPreference {
		if strings.EqualFold(strings.TrimSpace(name), slot.ProviderName) {
			return true
		}
	}
	return false
}

// NextBatch selects up to batchSize candidates for a slot, preserving the
// ranking order of the input. Candidates are expected to be pre-sorted by
// priority score descending with join time as the tiebreak; the exclusion of
// already-offered and opted-out patients happens in the candidate query.
func NextBatch(candidates []Candidate, slot *CancellationSlot, batchSize int) []Candidate {
	if batchSize <= 0 {
		return nil
	}
	var batch []Candidate
	for _, c := range candidates {
		if !MatchesSlot(c, slot) {
			continue
		}
		batch = append(batch, c)
		if len(batch) == batchSize {
			break
		}
	}
	return batch
}
