package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by store methods. Both a pool and a
// transaction satisfy it, so every method can run inside or outside a tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists patients, waitlist entries, slots and offers in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const slotColumns = `
	cs.id, cs.provider_id, COALESCE(p.name, ''), COALESCE(p.provider_type, ''),
	cs.location, cs.starts_at, cs.ends_at, COALESCE(cs.reason, ''),
	cs.status, cs.filled_at, cs.filled_by_patient_id, cs.created_at`

func scanSlot(row pgx.Row) (*CancellationSlot, error) {
	var slot CancellationSlot
	var status string
	err := row.Scan(
		&slot.ID, &slot.ProviderID, &slot.ProviderName, &slot.ProviderType,
		&slot.Location, &slot.StartsAt, &slot.EndsAt, &slot.Reason,
		&status, &slot.FilledAt, &slot.FilledBy, &slot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	slot.Status = SlotStatus(status)
	return &slot, nil
}

// InsertSlot persists a new open slot. The caller validates the time window.
func (s *Store) InsertSlot(ctx context.Context, q Querier, slot *CancellationSlot) error {
	if q == nil {
		q = s.pool
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.Status = SlotOpen
	query := `
		INSERT INTO cancellation_slots (id, provider_id, location, starts_at, ends_at, reason, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING created_at
	`
	if err := q.QueryRow(ctx, query, slot.ID, slot.ProviderID, slot.Location, slot.StartsAt, slot.EndsAt, slot.Reason, string(slot.Status)).Scan(&slot.CreatedAt); err != nil {
		return fmt.Errorf("waitlist: insert slot: %w", err)
	}
	return nil
}

// GetSlot fetches a slot with its provider view.
func (s *Store) GetSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT` + slotColumns + `
		FROM cancellation_slots cs
		LEFT JOIN providers p ON p.id = cs.provider_id
		WHERE cs.id = $1
	`
	slot, err := scanSlot(q.QueryRow(ctx, query, slotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("waitlist: get slot: %w", err)
	}
	return slot, nil
}

// LockSlot fetches a slot with an exclusive row lock. The slot row is the
// serialization point for batch advancement and fills.
func (s *Store) LockSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT` + slotColumns + `
		FROM cancellation_slots cs
		LEFT JOIN providers p ON p.id = cs.provider_id
		WHERE cs.id = $1
		FOR UPDATE OF cs
	`
	slot, err := scanSlot(q.QueryRow(ctx, query, slotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("waitlist: lock slot: %w", err)
	}
	return slot, nil
}

// FillSlotIfOpen atomically flips an open slot to filled. Returns false when
// the slot was no longer open, which is how a losing claimant finds out.
func (s *Store) FillSlotIfOpen(ctx context.Context, q Querier, slotID, patientID uuid.UUID, now time.Time) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE cancellation_slots
		SET status = $4, filled_at = $2, filled_by_patient_id = $3, updated_at = now()
		WHERE id = $1 AND status = $5
	`
	tag, err := q.Exec(ctx, query, slotID, now, patientID, string(SlotFilled), string(SlotOpen))
	if err != nil {
		return false, fmt.Errorf("waitlist: fill slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSlotExpired transitions an open slot to expired. A no-op on terminal slots.
func (s *Store) MarkSlotExpired(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error) {
	return s.closeSlot(ctx, q, slotID, SlotExpired)
}

// MarkSlotAborted voids an open slot on staff request. A no-op on terminal slots.
func (s *Store) MarkSlotAborted(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error) {
	return s.closeSlot(ctx, q, slotID, SlotAborted)
}

func (s *Store) closeSlot(ctx context.Context, q Querier, slotID uuid.UUID, to SlotStatus) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE cancellation_slots
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	tag, err := q.Exec(ctx, query, slotID, string(to), string(SlotOpen))
	if err != nil {
		return false, fmt.Errorf("waitlist: close slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveSlots returns open slots ordered by start time.
func (s *Store) ListActiveSlots(ctx context.Context) ([]CancellationSlot, error) {
	query := `
		SELECT` + slotColumns + `
		FROM cancellation_slots cs
		LEFT JOIN providers p ON p.id = cs.provider_id
		WHERE cs.status = $1
		ORDER BY cs.starts_at
	`
	rows, err := s.pool.Query(ctx, query, string(SlotOpen))
	if err != nil {
		return nil, fmt.Errorf("waitlist: list active slots: %w", err)
	}
	defer rows.Close()
	var out []CancellationSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("waitlist: scan slot: %w", err)
		}
		out = append(out, *slot)
	}
	return out, rows.Err()
}

// MaxBatchNumber returns the highest batch issued for a slot, 0 when none.
func (s *Store) MaxBatchNumber(ctx context.Context, q Querier, slotID uuid.UUID) (int, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT COALESCE(MAX(batch_number), 0) FROM offers WHERE slot_id = $1`
	var batch int
	if err := q.QueryRow(ctx, query, slotID).Scan(&batch); err != nil {
		return 0, fmt.Errorf("waitlist: max batch number: %w", err)
	}
	return batch, nil
}

// PendingCountInBatch counts unresolved offers in one batch of a slot.
func (s *Store) PendingCountInBatch(ctx context.Context, q Querier, slotID uuid.UUID, batch int) (int, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT COUNT(*) FROM offers
		WHERE slot_id = $1 AND batch_number = $2 AND state = $3
	`
	var count int
	if err := q.QueryRow(ctx, query, slotID, batch, string(OfferPending)).Scan(&count); err != nil {
		return 0, fmt.Errorf("waitlist: pending count in batch: %w", err)
	}
	return count, nil
}

// OfferedPatientIDs returns every patient ever offered this slot, any batch.
func (s *Store) OfferedPatientIDs(ctx context.Context, q Querier, slotID uuid.UUID) ([]uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT patient_id FROM offers WHERE slot_id = $1`
	rows, err := q.Query(ctx, query, slotID)
	if err != nil {
		return nil, fmt.Errorf("waitlist: offered patient ids: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("waitlist: scan offered patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EligibleCandidates returns active, contactable entries excluding the given
// patients, ranked by stored priority score then join time. Provider
// preference matching happens in Go via NextBatch.
func (s *Store) EligibleCandidates(ctx context.Context, q Querier, excludePatientIDs []uuid.UUID) ([]Candidate, error) {
	if q == nil {
		q = s.pool
	}
	if excludePatientIDs == nil {
		excludePatientIDs = []uuid.UUID{}
	}
	query := `
		SELECT we.id, we.patient_id, COALESCE(we.provider_preference, '{}'),
			COALESCE(we.provider_type_preference, ''), we.target_appt_at,
			we.urgent, we.manual_boost, we.joined_at, we.priority_score,
			COALESCE(we.notes, ''), pt.phone_e164, COALESCE(pt.display_name, '')
		FROM waitlist_entries we
		JOIN patients pt ON pt.id = we.patient_id
		WHERE we.active
			AND NOT pt.opt_out
			AND NOT (we.patient_id = ANY($1))
		ORDER BY we.priority_score DESC NULLS LAST, we.joined_at ASC
	`
	rows, err := q.Query(ctx, query, excludePatientIDs)
	if err != nil {
		return nil, fmt.Errorf("waitlist: eligible candidates: %w", err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		c.Active = true
		if err := rows.Scan(
			&c.ID, &c.PatientID, &c.ProviderPreference, &c.ProviderTypePreference,
			&c.TargetApptAt, &c.Urgent, &c.ManualBoost, &c.JoinedAt,
			&c.PriorityScore, &c.Notes, &c.Phone, &c.DisplayName,
		); err != nil {
			return nil, fmt.Errorf("waitlist: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateOffer inserts a pending offer. The unique (slot, patient) constraint
// guarantees a patient is never offered the same slot twice.
func (s *Store) CreateOffer(ctx context.Context, q Querier, offer *Offer) error {
	if q == nil {
		q = s.pool
	}
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	offer.State = OfferPending
	query := `
		INSERT INTO offers (id, slot_id, patient_id, batch_number, hold_expires_at, state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.Exec(ctx, query, offer.ID, offer.SlotID, offer.PatientID, offer.BatchNumber, offer.HoldExpiresAt, string(offer.State))
	if err != nil {
		return fmt.Errorf("waitlist: create offer: %w", err)
	}
	return nil
}

// MarkOfferSent records a successful send.
func (s *Store) MarkOfferSent(ctx context.Context, q Querier, offerID uuid.UUID, sentAt time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `UPDATE offers SET sent_at = $2, updated_at = now() WHERE id = $1`
	if _, err := q.Exec(ctx, query, offerID, sentAt); err != nil {
		return fmt.Errorf("waitlist: mark offer sent: %w", err)
	}
	return nil
}

// ResolveOffer transitions a pending offer to a terminal state, stamping the
// matching resolution timestamp. Resolving an already-terminal offer is a no-op.
func (s *Store) ResolveOffer(ctx context.Context, q Querier, offerID uuid.UUID, state OfferState, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	var query string
	switch state {
	case OfferAccepted:
		query = `UPDATE offers SET state = $2, accepted_at = $3, updated_at = now() WHERE id = $1 AND state = $4`
	case OfferDeclined:
		query = `UPDATE offers SET state = $2, declined_at = $3, updated_at = now() WHERE id = $1 AND state = $4`
	case OfferExpired, OfferCanceled, OfferFailed:
		query = `UPDATE offers SET state = $2, updated_at = now() WHERE id = $1 AND state = $4`
	case OfferPending:
		return fmt.Errorf("waitlist: resolve offer: pending is not a terminal state")
	default:
		return fmt.Errorf("waitlist: resolve offer: unknown state %q", state)
	}
	var err error
	if state == OfferAccepted || state == OfferDeclined {
		_, err = q.Exec(ctx, query, offerID, string(state), at, string(OfferPending))
	} else {
		_, err = q.Exec(ctx, query, offerID, string(state), string(OfferPending))
	}
	if err != nil {
		return fmt.Errorf("waitlist: resolve offer to %s: %w", state, err)
	}
	return nil
}

const offerColumns = `id, slot_id, patient_id, batch_number, sent_at, hold_expires_at, state, accepted_at, declined_at`

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var state string
	err := row.Scan(&o.ID, &o.SlotID, &o.PatientID, &o.BatchNumber, &o.SentAt, &o.HoldExpiresAt, &state, &o.AcceptedAt, &o.DeclinedAt)
	if err != nil {
		return nil, err
	}
	o.State = OfferState(state)
	return &o, nil
}

// LatestPendingOfferForUpdate returns the patient's most recent pending offer
// under an exclusive row lock, or nil when there is none. Locking the offer
// before the slot keeps the lock order consistent across resolvers.
func (s *Store) LatestPendingOfferForUpdate(ctx context.Context, q Querier, patientID uuid.UUID) (*Offer, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE patient_id = $1 AND state = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	offer, err := scanOffer(q.QueryRow(ctx, query, patientID, string(OfferPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("waitlist: latest pending offer: %w", err)
	}
	return offer, nil
}

// PendingSiblings lists the other pending offers on a slot with the contact
// details needed for the slot-taken notice.
func (s *Store) PendingSiblings(ctx context.Context, q Querier, slotID, excludeOfferID uuid.UUID) ([]SiblingOffer, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT o.id, o.patient_id, pt.phone_e164
		FROM offers o
		JOIN patients pt ON pt.id = o.patient_id
		WHERE o.slot_id = $1 AND o.id <> $2 AND o.state = $3
	`
	rows, err := q.Query(ctx, query, slotID, excludeOfferID, string(OfferPending))
	if err != nil {
		return nil, fmt.Errorf("waitlist: pending siblings: %w", err)
	}
	defer rows.Close()
	var out []SiblingOffer
	for rows.Next() {
		var sib SiblingOffer
		if err := rows.Scan(&sib.OfferID, &sib.PatientID, &sib.Phone); err != nil {
			return nil, fmt.Errorf("waitlist: scan sibling offer: %w", err)
		}
		out = append(out, sib)
	}
	return out, rows.Err()
}

// ExpireOverdueOffers transitions every pending offer past its hold deadline
// to expired. Returns the distinct slots touched and the offer count.
func (s *Store) ExpireOverdueOffers(ctx context.Context, q Querier, now time.Time) ([]uuid.UUID, int, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE offers
		SET state = $2, updated_at = now()
		WHERE state = $3 AND hold_expires_at <= $1
		RETURNING slot_id
	`
	rows, err := q.Query(ctx, query, now, string(OfferExpired), string(OfferPending))
	if err != nil {
		return nil, 0, fmt.Errorf("waitlist: expire overdue offers: %w", err)
	}
	defer rows.Close()
	seen := make(map[uuid.UUID]struct{})
	var slots []uuid.UUID
	expired := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("waitlist: scan expired slot id: %w", err)
		}
		expired++
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			slots = append(slots, id)
		}
	}
	return slots, expired, rows.Err()
}

const patientColumns = `id, phone_e164, COALESCE(display_name, ''), opt_out, last_contacted_at, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PhoneE164, &p.DisplayName, &p.OptOut, &p.LastContactedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPatientByPhone returns the patient for a phone number, nil when unknown.
func (s *Store) GetPatientByPhone(ctx context.Context, q Querier, phone string) (*Patient, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + patientColumns + ` FROM patients WHERE phone_e164 = $1`
	p, err := scanPatient(q.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("waitlist: get patient by phone: %w", err)
	}
	return p, nil
}

// UpsertPatient creates or refreshes a patient keyed by phone number and
// fills in the resulting ID.
func (s *Store) UpsertPatient(ctx context.Context, q Querier, p *Patient) error {
	if q == nil {
		q = s.pool
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO patients (id, phone_e164, display_name, opt_out)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (phone_e164) DO UPDATE
		SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), patients.display_name),
			updated_at = now()
		RETURNING id
	`
	if err := q.QueryRow(ctx, query, p.ID, p.PhoneE164, p.DisplayName, p.OptOut).Scan(&p.ID); err != nil {
		return fmt.Errorf("waitlist: upsert patient: %w", err)
	}
	return nil
}

// OptOutPhone flags a phone number as opted out, creating the patient record
// first if the number is unknown. Compliance requires honoring STOP even from
// numbers that were never added to the waitlist.
func (s *Store) OptOutPhone(ctx context.Context, q Querier, phone string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO patients (id, phone_e164, opt_out)
		VALUES ($1, $2, true)
		ON CONFLICT (phone_e164) DO UPDATE
		SET opt_out = true, updated_at = now()
	`
	if _, err := q.Exec(ctx, query, uuid.New(), phone); err != nil {
		return fmt.Errorf("waitlist: opt out phone: %w", err)
	}
	return nil
}

// TouchLastContacted stamps a patient's last outbound contact time.
func (s *Store) TouchLastContacted(ctx context.Context, q Querier, patientID uuid.UUID, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `UPDATE patients SET last_contacted_at = $2, updated_at = now() WHERE id = $1`
	if _, err := q.Exec(ctx, query, patientID, at); err != nil {
		return fmt.Errorf("waitlist: touch last contacted: %w", err)
	}
	return nil
}

// AddEntry inserts a waitlist entry for a patient. A patient may hold at most
// one active entry at a time.
func (s *Store) AddEntry(ctx context.Context, q Querier, e *Entry) error {
	if q == nil {
		q = s.pool
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ManualBoost < 0 || e.ManualBoost > maxManualBoost {
		return ErrBoostOutOfRange
	}
	var exists int
	dupQuery := `SELECT 1 FROM waitlist_entries WHERE patient_id = $1 AND active LIMIT 1`
	err := q.QueryRow(ctx, dupQuery, e.PatientID).Scan(&exists)
	if err == nil {
		return ErrDuplicateEntry
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("waitlist: check duplicate entry: %w", err)
	}
	query := `
		INSERT INTO waitlist_entries (
			id, patient_id, provider_preference, provider_type_preference,
			target_appt_at, urgent, manual_boost, active, joined_at, priority_score, notes
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, true, $8, $9, NULLIF($10, ''))
	`
	if e.ProviderPreference == nil {
		e.ProviderPreference = []string{}
	}
	e.Active = true
	_, err = q.Exec(ctx, query, e.ID, e.PatientID, e.ProviderPreference, e.ProviderTypePreference,
		e.TargetApptAt, e.Urgent, e.ManualBoost, e.JoinedAt, e.PriorityScore, e.Notes)
	if err != nil {
		// The partial unique index on active entries backstops the check
		// above when two adds for the same patient race.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("waitlist: add entry: %w", err)
	}
	return nil
}

// DeactivateEntry soft-removes an entry; it can be reactivated later by staff.
func (s *Store) DeactivateEntry(ctx context.Context, q Querier, entryID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `UPDATE waitlist_entries SET active = false, updated_at = now() WHERE id = $1`
	tag, err := q.Exec(ctx, query, entryID)
	if err != nil {
		return fmt.Errorf("waitlist: deactivate entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// GetActiveEntryByPatient returns the patient's active entry.
func (s *Store) GetActiveEntryByPatient(ctx context.Context, q Querier, patientID uuid.UUID) (*Entry, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, patient_id, COALESCE(provider_preference, '{}'),
			COALESCE(provider_type_preference, ''), target_appt_at,
			urgent, manual_boost, active, joined_at, priority_score, COALESCE(notes, '')
		FROM waitlist_entries
		WHERE patient_id = $1 AND active
		LIMIT 1
	`
	var e Entry
	err := q.QueryRow(ctx, query, patientID).Scan(
		&e.ID, &e.PatientID, &e.ProviderPreference, &e.ProviderTypePreference,
		&e.TargetApptAt, &e.Urgent, &e.ManualBoost, &e.Active, &e.JoinedAt,
		&e.PriorityScore, &e.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("waitlist: get active entry: %w", err)
	}
	return &e, nil
}

// UpdateEntryBoost sets a new manual boost, recomputed score and audit notes.
func (s *Store) UpdateEntryBoost(ctx context.Context, q Querier, entryID uuid.UUID, boost, score int, notes string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE waitlist_entries
		SET manual_boost = $2, priority_score = $3, notes = NULLIF($4, ''), updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, entryID, boost, score, notes); err != nil {
		return fmt.Errorf("waitlist: update entry boost: %w", err)
	}
	return nil
}

// UpdateEntryScore persists a recomputed priority score.
func (s *Store) UpdateEntryScore(ctx context.Context, q Querier, entryID uuid.UUID, score int) error {
	if q == nil {
		q = s.pool
	}
	query := `UPDATE waitlist_entries SET priority_score = $2, updated_at = now() WHERE id = $1`
	if _, err := q.Exec(ctx, query, entryID, score); err != nil {
		return fmt.Errorf("waitlist: update entry score: %w", err)
	}
	return nil
}

// ActiveEntries returns every active entry, for score recomputation.
func (s *Store) ActiveEntries(ctx context.Context, q Querier) ([]Entry, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, patient_id, COALESCE(provider_preference, '{}'),
			COALESCE(provider_type_preference, ''), target_appt_at,
			urgent, manual_boost, active, joined_at, priority_score, COALESCE(notes, '')
		FROM waitlist_entries
		WHERE active
	`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("waitlist: active entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.PatientID, &e.ProviderPreference, &e.ProviderTypePreference,
			&e.TargetApptAt, &e.Urgent, &e.ManualBoost, &e.Active, &e.JoinedAt,
			&e.PriorityScore, &e.Notes,
		); err != nil {
			return nil, fmt.Errorf("waitlist: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEntries returns waitlist entries with patient contact details for the
// staff dashboard, highest priority first.
func (s *Store) ListEntries(ctx context.Context, limit int, activeOnly bool) ([]Candidate, error) {
	query := `
		SELECT we.id, we.patient_id, COALESCE(we.provider_preference, '{}'),
			COALESCE(we.provider_type_preference, ''), we.target_appt_at,
			we.urgent, we.manual_boost, we.active, we.joined_at, we.priority_score,
			COALESCE(we.notes, ''), pt.phone_e164, COALESCE(pt.display_name, '')
		FROM waitlist_entries we
		JOIN patients pt ON pt.id = we.patient_id
		WHERE ($2 = false OR we.active)
		ORDER BY we.priority_score DESC NULLS LAST, we.joined_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list entries: %w", err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ID, &c.PatientID, &c.ProviderPreference, &c.ProviderTypePreference,
			&c.TargetApptAt, &c.Urgent, &c.ManualBoost, &c.Active, &c.JoinedAt,
			&c.PriorityScore, &c.Notes, &c.Phone, &c.DisplayName,
		); err != nil {
			return nil, fmt.Errorf("waitlist: scan entry row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetProvider fetches one provider.
func (s *Store) GetProvider(ctx context.Context, q Querier, id uuid.UUID) (*Provider, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT id, name, provider_type, active FROM providers WHERE id = $1`
	var p Provider
	if err := q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.ProviderType, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("waitlist: provider %s not found", id)
		}
		return nil, fmt.Errorf("waitlist: get provider: %w", err)
	}
	return &p, nil
}

// UpsertProvider creates or updates a provider by name.
func (s *Store) UpsertProvider(ctx context.Context, q Querier, p *Provider) error {
	if q == nil {
		q = s.pool
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO providers (id, name, provider_type, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET provider_type = EXCLUDED.provider_type, active = EXCLUDED.active
		RETURNING id
	`
	if err := q.QueryRow(ctx, query, p.ID, p.Name, p.ProviderType, p.Active).Scan(&p.ID); err != nil {
		return fmt.Errorf("waitlist: upsert provider: %w", err)
	}
	return nil
}
