package messaging

import (
	"fmt"
	"time"
)

// Catalog renders the patient-facing SMS bodies. Slot times are stored in UTC
// and converted to the clinic's display timezone only here.
type Catalog struct {
	clinicName string
	loc        *time.Location
}

// NewCatalog builds a catalog for a clinic. An unknown timezone falls back to UTC.
func NewCatalog(clinicName, timezone string) *Catalog {
	if clinicName == "" {
		clinicName = "the clinic"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Catalog{clinicName: clinicName, loc: loc}
}

func (c *Catalog) slotTime(t time.Time) string {
	return t.In(c.loc).Format("Mon Jan 2 at 3:04 PM")
}

// InitialOffer is the batch fan-out message. It must carry the slot time,
// location, provider name and the hold window.
func (c *Catalog) InitialOffer(startsAt time.Time, location, provider string, holdMinutes int) string {
	with := ""
	if provider != "" {
		with = fmt.Sprintf(" with %s", provider)
	}
	return fmt.Sprintf(
		"An earlier appointment%s just opened up at %s on %s. Reply YES within %d minutes to claim it, or NO to pass. — %s",
		with, location, c.slotTime(startsAt), holdMinutes, c.clinicName,
	)
}

// WinConfirmation is sent to the patient whose accept won the slot.
func (c *Catalog) WinConfirmation(startsAt time.Time, location, provider string) string {
	with := ""
	if provider != "" {
		with = fmt.Sprintf(" with %s", provider)
	}
	return fmt.Sprintf(
		"You're booked! Your appointment%s is confirmed for %s at %s. See you then! — %s",
		with, c.slotTime(startsAt), location, c.clinicName,
	)
}

// TooLate is sent when an accept arrives after another patient won the slot.
func (c *Catalog) TooLate() string {
	return fmt.Sprintf("So sorry, that opening was just taken. You're still on our waitlist and we'll text you the next one. — %s", c.clinicName)
}

// HoldExpired is sent when an accept arrives after the hold window closed.
func (c *Catalog) HoldExpired() string {
	return fmt.Sprintf("That offer has expired, sorry! You're still on our waitlist and we'll reach out when the next opening comes up. — %s", c.clinicName)
}

// DeclineAck acknowledges a pass.
func (c *Catalog) DeclineAck() string {
	return fmt.Sprintf("No problem, we'll keep you on the list for the next opening. — %s", c.clinicName)
}

// SlotTaken notifies pending batch-mates after someone else accepted.
func (c *Catalog) SlotTaken() string {
	return fmt.Sprintf("That opening has been filled. You're still on our waitlist and we'll text you the next one. — %s", c.clinicName)
}

// OfferWithdrawn notifies pending offer holders that staff voided the slot.
func (c *Catalog) OfferWithdrawn() string {
	return fmt.Sprintf("That opening is no longer available, sorry for the confusion. You're still on our waitlist. — %s", c.clinicName)
}

// NoActiveOffer answers a YES or NO from a number with nothing pending.
func (c *Catalog) NoActiveOffer() string {
	return fmt.Sprintf("We don't have an active offer for this number right now. We'll text you when an opening comes up. — %s", c.clinicName)
}

// OptOutConfirmation confirms a STOP.
func (c *Catalog) OptOutConfirmation() string {
	return fmt.Sprintf("You've been unsubscribed and won't receive any more waitlist texts. Call us if you'd like back on. — %s", c.clinicName)
}

// HelpText answers HELP/INFO.
func (c *Catalog) HelpText() string {
	return fmt.Sprintf("%s waitlist: we text you when an earlier appointment opens up. Reply YES to claim an offer, NO to pass, STOP to unsubscribe.", c.clinicName)
}

// Unrecognized guides a patient whose reply matched no keyword.
func (c *Catalog) Unrecognized() string {
	return "Sorry, I didn't catch that. Reply YES to accept an offer, NO to pass, HELP for info or STOP to unsubscribe."
}
