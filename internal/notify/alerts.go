package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/openslot/waitline/internal/waitlist"
	"github.com/openslot/waitline/pkg/logging"
)

// StaffAlerter emails the clinic staff inbox when the offer engine needs a
// human. Alerts are best-effort; a failed send is logged and dropped.
type StaffAlerter struct {
	sender     EmailSender
	to         string
	clinicName string
	logger     *logging.Logger
}

// NewStaffAlerter returns nil when there is no sender or no destination,
// which callers treat as alerting disabled.
func NewStaffAlerter(sender EmailSender, to, clinicName string, logger *logging.Logger) *StaffAlerter {
	if sender == nil || to == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffAlerter{sender: sender, to: to, clinicName: clinicName, logger: logger}
}

// SlotExhausted notifies staff that a cancellation slot expired because no
// eligible patients remain to offer it to.
func (a *StaffAlerter) SlotExhausted(ctx context.Context, slot *waitlist.CancellationSlot) {
	if a == nil {
		return
	}

	provider := slot.ProviderName
	if provider == "" {
		provider = "unassigned provider"
	}

	subject := fmt.Sprintf("[%s] Cancellation slot unfilled: %s", a.clinicName, slot.StartsAt.Format("Jan 2 3:04 PM"))
	body := fmt.Sprintf(
		"The waitlist ran out of eligible patients for a canceled appointment.\n\n"+
			"Slot ID:   %s\n"+
			"Provider:  %s\n"+
			"Location:  %s\n"+
			"Starts at: %s\n"+
			"Ends at:   %s\n\n"+
			"The slot has been marked expired. Fill it manually if needed.",
		slot.ID,
		provider,
		slot.Location,
		slot.StartsAt.Format(time.RFC1123),
		slot.EndsAt.Format(time.RFC1123),
	)

	err := a.sender.Send(ctx, EmailMessage{
		To:      a.to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		a.logger.Error("exhaustion alert failed", "slot_id", slot.ID, "error", err)
		return
	}
	a.logger.Info("exhaustion alert sent", "slot_id", slot.ID, "to", a.to)
}

var _ waitlist.ExhaustionAlerter = (*StaffAlerter)(nil)
