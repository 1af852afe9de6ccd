package waitlist

import "errors"

var (
	// ErrSlotNotFound indicates the referenced cancellation slot does not exist.
	ErrSlotNotFound = errors.New("waitlist: slot not found")

	// ErrPatientNotFound indicates no patient matches the given identifier or phone.
	ErrPatientNotFound = errors.New("waitlist: patient not found")

	// ErrEntryNotFound indicates the patient has no waitlist entry.
	ErrEntryNotFound = errors.New("waitlist: entry not found")

	// ErrBoostOutOfRange indicates a manual boost outside the allowed 0..40 range.
	ErrBoostOutOfRange = errors.New("waitlist: manual boost must be between 0 and 40")

	// ErrSlotNotOpen indicates an operation that requires an open slot hit a terminal one.
	ErrSlotNotOpen = errors.New("waitlist: slot is not open")

	// ErrInvalidSlotWindow indicates a slot whose end time is not after its start.
	ErrInvalidSlotWindow = errors.New("waitlist: slot end must be after start")

	// ErrDuplicateEntry indicates the patient already has an active waitlist entry.
	ErrDuplicateEntry = errors.New("waitlist: patient already has an active entry")
)
