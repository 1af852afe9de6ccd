package waitlist

import (
	"time"

	"github.com/google/uuid"
)

// SlotStatus is the lifecycle state of a cancellation slot.
// Open is the only non-terminal state.
type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotFilled  SlotStatus = "filled"
	SlotExpired SlotStatus = "expired"
	SlotAborted SlotStatus = "aborted"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SlotStatus) Terminal() bool {
	switch s {
	case SlotFilled, SlotExpired, SlotAborted:
		return true
	case SlotOpen:
		return false
	}
	return false
}

// OfferState is the lifecycle state of a single offer. Pending is the only
// non-terminal state; every other state is final for that offer.
type OfferState string

const (
	OfferPending  OfferState = "pending"
	OfferAccepted OfferState = "accepted"
	OfferDeclined OfferState = "declined"
	OfferExpired  OfferState = "expired"
	OfferCanceled OfferState = "canceled"
	OfferFailed   OfferState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OfferState) Terminal() bool {
	switch s {
	case OfferAccepted, OfferDeclined, OfferExpired, OfferCanceled, OfferFailed:
		return true
	case OfferPending:
		return false
	}
	return false
}

// Patient is one reachable phone number on the waitlist side.
type Patient struct {
	ID              uuid.UUID
	PhoneE164       string
	DisplayName     string
	OptOut          bool
	LastContactedAt *time.Time
	CreatedAt       time.Time
}

// Provider is a bookable clinician referenced by slots and preferences.
type Provider struct {
	ID           uuid.UUID
	Name         string
	ProviderType string
	Active       bool
}

// Entry is one patient's standing request for an earlier appointment.
type Entry struct {
	ID                     uuid.UUID
	PatientID              uuid.UUID
	ProviderPreference     []string
	ProviderTypePreference string
	TargetApptAt           *time.Time
	Urgent                 bool
	ManualBoost            int
	Active                 bool
	JoinedAt               time.Time
	PriorityScore          *int
	Notes                  string
}

// Candidate is an eligible entry joined with its patient's contact details,
// as returned by the eligibility query.
type Candidate struct {
	Entry
	Phone       string
	DisplayName string
}

// CancellationSlot is one canceled appointment opportunity. ProviderName and
// ProviderType are populated from the providers table on reads; a nil
// ProviderID means the slot is unassigned and matches every preference.
type CancellationSlot struct {
	ID           uuid.UUID
	ProviderID   *uuid.UUID
	ProviderName string
	ProviderType string
	Location     string
	StartsAt     time.Time
	EndsAt       time.Time
	Reason       string
	Status       SlotStatus
	FilledAt     *time.Time
	FilledBy     *uuid.UUID
	CreatedAt    time.Time
}

// Offer is one SMS proposal of a slot to one patient. BatchNumber groups
// offers issued together; numbers are dense per slot starting at 1.
type Offer struct {
	ID            uuid.UUID
	SlotID        uuid.UUID
	PatientID     uuid.UUID
	BatchNumber   int
	SentAt        *time.Time
	HoldExpiresAt time.Time
	State         OfferState
	AcceptedAt    *time.Time
	DeclinedAt    *time.Time
}

// SiblingOffer is the contact view of a pending offer used when notifying
// batch-mates that a slot was taken.
type SiblingOffer struct {
	OfferID   uuid.UUID
	PatientID uuid.UUID
	Phone     string
}
