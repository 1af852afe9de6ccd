package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openslot/waitline/internal/messaging"
	"github.com/openslot/waitline/internal/observability/metrics"
	"github.com/openslot/waitline/pkg/logging"
)

// orchestratorStore is the persistence surface the orchestrator needs. *Store
// satisfies it; tests substitute an in-memory implementation.
type orchestratorStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertSlot(ctx context.Context, q Querier, slot *CancellationSlot) error
	GetSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error)
	LockSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error)
	FillSlotIfOpen(ctx context.Context, q Querier, slotID, patientID uuid.UUID, now time.Time) (bool, error)
	MarkSlotExpired(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error)
	MarkSlotAborted(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error)
	MaxBatchNumber(ctx context.Context, q Querier, slotID uuid.UUID) (int, error)
	PendingCountInBatch(ctx context.Context, q Querier, slotID uuid.UUID, batch int) (int, error)
	OfferedPatientIDs(ctx context.Context, q Querier, slotID uuid.UUID) ([]uuid.UUID, error)
	EligibleCandidates(ctx context.Context, q Querier, excludePatientIDs []uuid.UUID) ([]Candidate, error)
	CreateOffer(ctx context.Context, q Querier, offer *Offer) error
	MarkOfferSent(ctx context.Context, q Querier, offerID uuid.UUID, sentAt time.Time) error
	ResolveOffer(ctx context.Context, q Querier, offerID uuid.UUID, state OfferState, at time.Time) error
	LatestPendingOfferForUpdate(ctx context.Context, q Querier, patientID uuid.UUID) (*Offer, error)
	PendingSiblings(ctx context.Context, q Querier, slotID, excludeOfferID uuid.UUID) ([]SiblingOffer, error)
	ExpireOverdueOffers(ctx context.Context, q Querier, now time.Time) ([]uuid.UUID, int, error)
	GetPatientByPhone(ctx context.Context, q Querier, phone string) (*Patient, error)
	TouchLastContacted(ctx context.Context, q Querier, patientID uuid.UUID, at time.Time) error
}

var _ orchestratorStore = (*Store)(nil)

// OutboundRecorder archives outbound sends for the message audit trail.
// Recording is best-effort; failures are logged and never block a dispatch.
type OutboundRecorder interface {
	LogOutbound(ctx context.Context, offerID *uuid.UUID, to, body, providerSID, status string) error
}

// ExhaustionAlerter tells staff a slot ran out of eligible patients.
type ExhaustionAlerter interface {
	SlotExhausted(ctx context.Context, slot *CancellationSlot)
}

// Orchestrator runs the offer lifecycle for cancellation slots: batch
// dispatch, accept/decline resolution and hold-timer sweeps. All of its
// operations are safe to invoke concurrently; the slot row lock is the
// serialization point.
type Orchestrator struct {
	store     orchestratorStore
	sender    messaging.Sender
	catalog   *messaging.Catalog
	batchSize int
	hold      time.Duration
	guard     *AdvanceGuard
	recorder  OutboundRecorder
	alerter   ExhaustionAlerter
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewOrchestrator wires the offer engine. batchSize and hold fall back to
// 3 offers and 7 minutes when unset.
func NewOrchestrator(store *Store, sender messaging.Sender, catalog *messaging.Catalog, batchSize int, hold time.Duration, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	if batchSize <= 0 {
		batchSize = 3
	}
	if hold <= 0 {
		hold = 7 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		sender:    sender,
		catalog:   catalog,
		batchSize: batchSize,
		hold:      hold,
		logger:    logger,
		now:       time.Now,
	}
}

// WithAdvanceGuard adds the cross-process batch-advance latch.
func (o *Orchestrator) WithAdvanceGuard(guard *AdvanceGuard) *Orchestrator {
	o.guard = guard
	return o
}

// WithRecorder adds the outbound message audit log.
func (o *Orchestrator) WithRecorder(rec OutboundRecorder) *Orchestrator {
	o.recorder = rec
	return o
}

// WithAlerter adds staff alerting for exhausted slots.
func (o *Orchestrator) WithAlerter(a ExhaustionAlerter) *Orchestrator {
	o.alerter = a
	return o
}

// WithMetrics adds Prometheus counters.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// CreateSlotInput describes a new cancellation slot.
type CreateSlotInput struct {
	ProviderID *uuid.UUID
	Location   string
	StartsAt   time.Time
	EndsAt     time.Time
	Reason     string
}

// CreateSlot validates and persists a new cancellation, then immediately
// dispatches batch 1. Returns the slot and the number of offers sent; a slot
// with no eligible patients comes back already expired with zero sends.
func (o *Orchestrator) CreateSlot(ctx context.Context, in CreateSlotInput) (*CancellationSlot, int, error) {
	if !in.EndsAt.After(in.StartsAt) {
		return nil, 0, ErrInvalidSlotWindow
	}
	slot := &CancellationSlot{
		ProviderID: in.ProviderID,
		Location:   in.Location,
		StartsAt:   in.StartsAt.UTC(),
		EndsAt:     in.EndsAt.UTC(),
		Reason:     in.Reason,
	}
	if err := o.store.InsertSlot(ctx, nil, slot); err != nil {
		return nil, 0, err
	}
	o.logger.Info("cancellation slot created",
		"slot_id", slot.ID,
		"location", slot.Location,
		"starts_at", slot.StartsAt,
	)

	sent, err := o.Dispatch(ctx, slot.ID)
	if err != nil {
		return slot, 0, fmt.Errorf("waitlist: initial dispatch: %w", err)
	}
	slot, err = o.store.GetSlot(ctx, nil, slot.ID)
	if err != nil {
		return nil, sent, err
	}
	return slot, sent, nil
}

// Dispatch issues the next offer batch for a slot. It no-ops (returning 0)
// when the slot is terminal or when the current batch still has pending
// offers, which makes concurrent advance attempts from the decline path and
// the sweeper harmless. When nobody eligible remains the slot expires.
// Returns the number of offers successfully sent.
func (o *Orchestrator) Dispatch(ctx context.Context, slotID uuid.UUID) (int, error) {
	now := o.now().UTC()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("waitlist: dispatch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := o.store.LockSlot(ctx, tx, slotID)
	if err != nil {
		return 0, err
	}
	if slot.Status != SlotOpen {
		return 0, nil
	}

	current, err := o.store.MaxBatchNumber(ctx, tx, slotID)
	if err != nil {
		return 0, err
	}
	if current > 0 {
		pending, err := o.store.PendingCountInBatch(ctx, tx, slotID, current)
		if err != nil {
			return 0, err
		}
		if pending > 0 {
			// Current batch still in flight; a racing advance already won.
			return 0, nil
		}
	}
	next := current + 1

	if !o.guard.TryAcquire(ctx, slotID, next) {
		return 0, nil
	}

	offered, err := o.store.OfferedPatientIDs(ctx, tx, slotID)
	if err != nil {
		o.guard.Release(ctx, slotID, next)
		return 0, err
	}
	candidates, err := o.store.EligibleCandidates(ctx, tx, offered)
	if err != nil {
		o.guard.Release(ctx, slotID, next)
		return 0, err
	}
	batch := NextBatch(candidates, slot, o.batchSize)

	if len(batch) == 0 {
		if _, err := o.store.MarkSlotExpired(ctx, tx, slotID); err != nil {
			o.guard.Release(ctx, slotID, next)
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			o.guard.Release(ctx, slotID, next)
			return 0, fmt.Errorf("waitlist: dispatch: commit expiry: %w", err)
		}
		o.metrics.IncSlotsExpired()
		o.logger.Info("slot exhausted, nobody left to ask", "slot_id", slotID, "batches_issued", current)
		if o.alerter != nil {
			slot.Status = SlotExpired
			o.alerter.SlotExhausted(ctx, slot)
		}
		return 0, nil
	}

	offers := make([]Offer, len(batch))
	for i, cand := range batch {
		offers[i] = Offer{
			SlotID:        slotID,
			PatientID:     cand.PatientID,
			BatchNumber:   next,
			HoldExpiresAt: now.Add(o.hold),
		}
		if err := o.store.CreateOffer(ctx, tx, &offers[i]); err != nil {
			o.guard.Release(ctx, slotID, next)
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		o.guard.Release(ctx, slotID, next)
		return 0, fmt.Errorf("waitlist: dispatch: commit batch: %w", err)
	}

	o.metrics.IncBatchesDispatched()

	body := o.catalog.InitialOffer(slot.StartsAt, slot.Location, slot.ProviderName, int(o.hold.Minutes()))

	sent := 0
	for i, cand := range batch {
		offer := &offers[i]
		sid, err := o.sender.Send(ctx, cand.Phone, body)
		if err != nil {
			// One failed delivery never blocks the rest of the batch.
			o.logger.Error("offer send failed", "offer_id", offer.ID, "slot_id", slotID, "error", err)
			if rerr := o.store.ResolveOffer(ctx, nil, offer.ID, OfferFailed, o.now().UTC()); rerr != nil {
				o.logger.Error("mark offer failed", "offer_id", offer.ID, "error", rerr)
			}
			o.metrics.IncOffersFailed()
			o.record(ctx, &offer.ID, cand.Phone, body, "", "failed")
			continue
		}
		sentAt := o.now().UTC()
		if err := o.store.MarkOfferSent(ctx, nil, offer.ID, sentAt); err != nil {
			o.logger.Error("mark offer sent", "offer_id", offer.ID, "error", err)
		}
		if err := o.store.TouchLastContacted(ctx, nil, cand.PatientID, sentAt); err != nil {
			o.logger.Error("touch last contacted", "patient_id", cand.PatientID, "error", err)
		}
		o.record(ctx, &offer.ID, cand.Phone, body, sid, "sent")
		sent++
	}

	o.metrics.IncOffersSent(sent)
	o.logger.Info("offer batch dispatched",
		"slot_id", slotID,
		"batch", next,
		"offers", len(batch),
		"sent", sent,
	)
	return sent, nil
}

// ClaimOutcome classifies what an accept attempt achieved.
type ClaimOutcome string

const (
	ClaimWon     ClaimOutcome = "won"
	ClaimTooLate ClaimOutcome = "too_late"
	ClaimExpired ClaimOutcome = "expired"
	ClaimNoOffer ClaimOutcome = "no_offer"
)

// ClaimResult is the outcome of one accept attempt plus the reply to text back.
type ClaimResult struct {
	Outcome ClaimOutcome
	Reply   string
	Slot    *CancellationSlot
}

// Accept resolves an inbound YES. The patient's pending offer is locked
// first, then the slot; the hold-expiry check happens before the slot lock so
// an expired offer can never win even on an otherwise open slot. Exactly one
// of two racing accepts observes the slot open and flips it to filled; the
// other finds it taken and its offer is canceled. Losing a race is a defined
// outcome, not an error.
func (o *Orchestrator) Accept(ctx context.Context, phone string) (*ClaimResult, error) {
	now := o.now().UTC()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("waitlist: accept: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	patient, err := o.store.GetPatientByPhone(ctx, tx, phone)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return &ClaimResult{Outcome: ClaimNoOffer, Reply: o.catalog.NoActiveOffer()}, nil
	}

	offer, err := o.store.LatestPendingOfferForUpdate(ctx, tx, patient.ID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return &ClaimResult{Outcome: ClaimNoOffer, Reply: o.catalog.NoActiveOffer()}, nil
	}

	if now.After(offer.HoldExpiresAt) {
		if err := o.store.ResolveOffer(ctx, tx, offer.ID, OfferExpired, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("waitlist: accept: commit expiry: %w", err)
		}
		o.logger.Info("accept arrived after hold expiry", "offer_id", offer.ID, "patient_id", patient.ID)
		return &ClaimResult{Outcome: ClaimExpired, Reply: o.catalog.HoldExpired()}, nil
	}

	slot, err := o.store.LockSlot(ctx, tx, offer.SlotID)
	if err != nil {
		return nil, err
	}

	won, err := o.store.FillSlotIfOpen(ctx, tx, slot.ID, patient.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		if err := o.store.ResolveOffer(ctx, tx, offer.ID, OfferCanceled, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("waitlist: accept: commit race loss: %w", err)
		}
		o.logger.Info("accept lost the race", "offer_id", offer.ID, "slot_id", slot.ID, "slot_status", slot.Status)
		return &ClaimResult{Outcome: ClaimTooLate, Reply: o.catalog.TooLate()}, nil
	}

	if err := o.store.ResolveOffer(ctx, tx, offer.ID, OfferAccepted, now); err != nil {
		return nil, err
	}
	siblings, err := o.store.PendingSiblings(ctx, tx, slot.ID, offer.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("waitlist: accept: commit claim: %w", err)
	}

	o.metrics.IncSlotsFilled()
	o.logger.Info("slot filled",
		"slot_id", slot.ID,
		"patient_id", patient.ID,
		"batch", offer.BatchNumber,
	)

	o.cancelAndNotify(ctx, siblings, o.catalog.SlotTaken())

	slot.Status = SlotFilled
	slot.FilledAt = &now
	slot.FilledBy = &patient.ID
	return &ClaimResult{
		Outcome: ClaimWon,
		Reply:   o.catalog.WinConfirmation(slot.StartsAt, slot.Location, slot.ProviderName),
		Slot:    slot,
	}, nil
}

// DeclineResult is the outcome of one decline.
type DeclineResult struct {
	Declined bool
	Reply    string
	Advanced bool
}

// Decline resolves an inbound NO. When the decline leaves the current batch
// fully terminal, the next batch goes out immediately instead of waiting for
// the sweep. A decline from a number with nothing pending is acknowledged
// neutrally.
func (o *Orchestrator) Decline(ctx context.Context, phone string) (*DeclineResult, error) {
	now := o.now().UTC()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("waitlist: decline: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	patient, err := o.store.GetPatientByPhone(ctx, tx, phone)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return &DeclineResult{Reply: o.catalog.NoActiveOffer()}, nil
	}

	offer, err := o.store.LatestPendingOfferForUpdate(ctx, tx, patient.ID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return &DeclineResult{Reply: o.catalog.NoActiveOffer()}, nil
	}

	if err := o.store.ResolveOffer(ctx, tx, offer.ID, OfferDeclined, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("waitlist: decline: commit: %w", err)
	}

	o.logger.Info("offer declined", "offer_id", offer.ID, "slot_id", offer.SlotID, "batch", offer.BatchNumber)

	advanced := false
	pending, err := o.store.PendingCountInBatch(ctx, nil, offer.SlotID, offer.BatchNumber)
	if err != nil {
		o.logger.Error("decline: pending count", "slot_id", offer.SlotID, "error", err)
	} else if pending == 0 {
		sent, err := o.Dispatch(ctx, offer.SlotID)
		if err != nil {
			o.logger.Error("decline: advance dispatch", "slot_id", offer.SlotID, "error", err)
		} else {
			advanced = sent > 0
		}
	}

	return &DeclineResult{Declined: true, Reply: o.catalog.DeclineAck(), Advanced: advanced}, nil
}

// Sweep expires every overdue pending offer, then advances each touched slot
// whose batch is now fully terminal. Returns the number of batches advanced.
// Sweep failures on one slot never stop the rest; the next cycle retries.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	start := o.now()
	now := start.UTC()

	slotIDs, expired, err := o.store.ExpireOverdueOffers(ctx, nil, now)
	if err != nil {
		return 0, fmt.Errorf("waitlist: sweep: %w", err)
	}
	o.metrics.IncOffersExpired(expired)

	advanced := 0
	for _, slotID := range slotIDs {
		sent, err := o.Dispatch(ctx, slotID)
		if err != nil {
			o.logger.Error("sweep: dispatch", "slot_id", slotID, "error", err)
			continue
		}
		if sent > 0 {
			advanced++
		}
	}

	o.metrics.ObserveSweep(time.Since(start).Seconds())
	if expired > 0 {
		o.logger.Info("hold sweep", "offers_expired", expired, "slots_touched", len(slotIDs), "batches_advanced", advanced)
	}
	return advanced, nil
}

// Abort voids an open slot on staff request and cancels its pending offers.
// Offer holders get a best-effort withdrawal notice.
func (o *Orchestrator) Abort(ctx context.Context, slotID uuid.UUID) error {
	now := o.now().UTC()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("waitlist: abort: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := o.store.LockSlot(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if slot.Status != SlotOpen {
		return fmt.Errorf("%w: %s is %s", ErrSlotNotOpen, slotID, slot.Status)
	}

	if _, err := o.store.MarkSlotAborted(ctx, tx, slotID); err != nil {
		return err
	}
	siblings, err := o.store.PendingSiblings(ctx, tx, slotID, uuid.Nil)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if err := o.store.ResolveOffer(ctx, tx, sib.OfferID, OfferCanceled, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("waitlist: abort: commit: %w", err)
	}

	o.metrics.IncSlotsAborted()
	o.logger.Info("slot aborted", "slot_id", slotID, "offers_canceled", len(siblings))

	o.notify(ctx, siblings, o.catalog.OfferWithdrawn())
	return nil
}

// cancelAndNotify moves each sibling offer to canceled and texts the holder.
// Runs after the winning claim committed; failures are logged, never retried.
func (o *Orchestrator) cancelAndNotify(ctx context.Context, siblings []SiblingOffer, body string) {
	now := o.now().UTC()
	canceled := make([]SiblingOffer, 0, len(siblings))
	for _, sib := range siblings {
		if err := o.store.ResolveOffer(ctx, nil, sib.OfferID, OfferCanceled, now); err != nil {
			// The offer stays pending for the sweeper; telling the holder
			// "slot taken" now would contradict a still-live offer.
			o.logger.Error("cancel sibling offer", "offer_id", sib.OfferID, "error", err)
			continue
		}
		canceled = append(canceled, sib)
	}
	o.notify(ctx, canceled, body)
}

func (o *Orchestrator) notify(ctx context.Context, siblings []SiblingOffer, body string) {
	for _, sib := range siblings {
		sid, err := o.sender.Send(ctx, sib.Phone, body)
		if err != nil {
			o.logger.Warn("courtesy notice failed", "offer_id", sib.OfferID, "error", err)
			o.record(ctx, &sib.OfferID, sib.Phone, body, "", "failed")
			continue
		}
		o.record(ctx, &sib.OfferID, sib.Phone, body, sid, "sent")
	}
}

func (o *Orchestrator) record(ctx context.Context, offerID *uuid.UUID, to, body, sid, status string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.LogOutbound(ctx, offerID, to, body, sid, status); err != nil {
		o.logger.Warn("message audit log failed", "to", to, "error", err)
	}
}
