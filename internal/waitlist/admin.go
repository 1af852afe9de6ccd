package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openslot/waitline/pkg/logging"
)

// Admin bundles the staff-facing waitlist operations: adding patients,
// boosting, score recomputation and dashboard listings.
type Admin struct {
	store  *Store
	logger *logging.Logger
	now    func() time.Time
}

func NewAdmin(store *Store, logger *logging.Logger) *Admin {
	if logger == nil {
		logger = logging.Default()
	}
	return &Admin{store: store, logger: logger, now: time.Now}
}

// AddPatientInput describes a new waitlist signup.
type AddPatientInput struct {
	Phone                  string
	DisplayName            string
	ProviderPreference     []string
	ProviderTypePreference string
	TargetApptAt           *time.Time
	Urgent                 bool
	ManualBoost            int
	Notes                  string
}

// AddToWaitlist upserts the patient by phone and creates their active entry
// with an initial priority score.
func (a *Admin) AddToWaitlist(ctx context.Context, in AddPatientInput) (*Entry, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("waitlist: add to waitlist: phone required")
	}
	if in.ManualBoost < 0 || in.ManualBoost > maxManualBoost {
		return nil, ErrBoostOutOfRange
	}
	now := a.now().UTC()

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("waitlist: add to waitlist: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	patient := &Patient{PhoneE164: phone, DisplayName: in.DisplayName}
	if err := a.store.UpsertPatient(ctx, tx, patient); err != nil {
		return nil, err
	}

	entry := &Entry{
		PatientID:              patient.ID,
		ProviderPreference:     in.ProviderPreference,
		ProviderTypePreference: in.ProviderTypePreference,
		TargetApptAt:           in.TargetApptAt,
		Urgent:                 in.Urgent,
		ManualBoost:            in.ManualBoost,
		JoinedAt:               now,
		Notes:                  in.Notes,
	}
	score := Score(*entry, now)
	entry.PriorityScore = &score

	if err := a.store.AddEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("waitlist: add to waitlist: commit: %w", err)
	}

	a.logger.Info("patient added to waitlist",
		"patient_id", patient.ID,
		"entry_id", entry.ID,
		"score", score,
		"urgent", entry.Urgent,
	)
	return entry, nil
}

// Boost sets a patient's manual boost, recomputes their score and appends an
// audit line to the entry notes. Returns the updated score.
func (a *Admin) Boost(ctx context.Context, patientID uuid.UUID, amount int, reason string) (int, error) {
	if amount < 0 || amount > maxManualBoost {
		return 0, ErrBoostOutOfRange
	}
	now := a.now().UTC()

	entry, err := a.store.GetActiveEntryByPatient(ctx, nil, patientID)
	if err != nil {
		return 0, err
	}

	entry.ManualBoost = amount
	score := Score(*entry, now)

	note := fmt.Sprintf("boost set to %d on %s", amount, now.Format("2006-01-02"))
	if reason != "" {
		note += ": " + reason
	}
	notes := entry.Notes
	if notes != "" {
		notes += "\n"
	}
	notes += note

	if err := a.store.UpdateEntryBoost(ctx, nil, entry.ID, amount, score, notes); err != nil {
		return 0, err
	}

	a.logger.Info("priority boosted", "patient_id", patientID, "boost", amount, "score", score)
	return score, nil
}

// RecalculateScores recomputes and persists every active entry's priority.
// Runs hourly and on staff demand; stale scores between runs are acceptable.
func (a *Admin) RecalculateScores(ctx context.Context) (int, error) {
	now := a.now().UTC()

	entries, err := a.store.ActiveEntries(ctx, nil)
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range entries {
		score := Score(entries[i], now)
		if err := a.store.UpdateEntryScore(ctx, nil, entries[i].ID, score); err != nil {
			a.logger.Error("update entry score", "entry_id", entries[i].ID, "error", err)
			continue
		}
		updated++
	}

	a.logger.Info("priority scores recalculated", "updated", updated)
	return updated, nil
}

// RemoveFromWaitlist deactivates a patient's active entry.
func (a *Admin) RemoveFromWaitlist(ctx context.Context, patientID uuid.UUID) error {
	entry, err := a.store.GetActiveEntryByPatient(ctx, nil, patientID)
	if err != nil {
		return err
	}
	if err := a.store.DeactivateEntry(ctx, nil, entry.ID); err != nil {
		return err
	}
	a.logger.Info("patient removed from waitlist", "patient_id", patientID, "entry_id", entry.ID)
	return nil
}

// ListWaitlist returns entries for the staff dashboard, highest priority first.
func (a *Admin) ListWaitlist(ctx context.Context, limit int, activeOnly bool) ([]Candidate, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return a.store.ListEntries(ctx, limit, activeOnly)
}

// ListActiveSlots returns the open cancellation slots.
func (a *Admin) ListActiveSlots(ctx context.Context) ([]CancellationSlot, error) {
	return a.store.ListActiveSlots(ctx)
}
