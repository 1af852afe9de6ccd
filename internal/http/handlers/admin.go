package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openslot/waitline/internal/waitlist"
	"github.com/openslot/waitline/pkg/logging"
)

// slotOps is the staff-facing slice of the orchestrator.
type slotOps interface {
	CreateSlot(ctx context.Context, in waitlist.CreateSlotInput) (*waitlist.CancellationSlot, int, error)
	Abort(ctx context.Context, slotID uuid.UUID) error
}

// waitlistOps is the staff-facing slice of the waitlist admin service.
type waitlistOps interface {
	AddToWaitlist(ctx context.Context, in waitlist.AddPatientInput) (*waitlist.Entry, error)
	Boost(ctx context.Context, patientID uuid.UUID, amount int, reason string) (int, error)
	RecalculateScores(ctx context.Context) (int, error)
	RemoveFromWaitlist(ctx context.Context, patientID uuid.UUID) error
	ListWaitlist(ctx context.Context, limit int, activeOnly bool) ([]waitlist.Candidate, error)
	ListActiveSlots(ctx context.Context) ([]waitlist.CancellationSlot, error)
}

// AdminHandler hosts the staff endpoints: posting cancellations, managing the
// waitlist and inspecting what is in flight.
type AdminHandler struct {
	slots    slotOps
	waitlist waitlistOps
	logger   *logging.Logger
}

func NewAdminHandler(slots slotOps, wl waitlistOps, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{slots: slots, waitlist: wl, logger: logger}
}

type createCancellationRequest struct {
	ProviderID string    `json:"provider_id,omitempty"`
	Location   string    `json:"location"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Reason     string    `json:"reason,omitempty"`
}

type createCancellationResponse struct {
	SlotID     uuid.UUID `json:"slot_id"`
	Status     string    `json:"status"`
	OffersSent int       `json:"offers_sent"`
}

// CreateCancellation posts a canceled appointment and kicks off the first
// offer batch. A slot nobody is eligible for comes back expired immediately.
func (h *AdminHandler) CreateCancellation(w http.ResponseWriter, r *http.Request) {
	var req createCancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	in := waitlist.CreateSlotInput{
		Location: req.Location,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Reason:   req.Reason,
	}
	if req.ProviderID != "" {
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			http.Error(w, "invalid provider_id", http.StatusBadRequest)
			return
		}
		in.ProviderID = &providerID
	}

	slot, sent, err := h.slots.CreateSlot(r.Context(), in)
	if err != nil {
		if errors.Is(err, waitlist.ErrInvalidSlotWindow) {
			http.Error(w, "ends_at must be after starts_at", http.StatusBadRequest)
			return
		}
		h.logger.Error("create cancellation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createCancellationResponse{
		SlotID:     slot.ID,
		Status:     string(slot.Status),
		OffersSent: sent,
	})
}

// AbortCancellation voids an open slot and cancels its pending offers.
func (h *AdminHandler) AbortCancellation(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		http.Error(w, "invalid slot id", http.StatusBadRequest)
		return
	}

	if err := h.slots.Abort(r.Context(), slotID); err != nil {
		switch {
		case errors.Is(err, waitlist.ErrSlotNotFound):
			http.Error(w, "slot not found", http.StatusNotFound)
		case errors.Is(err, waitlist.ErrSlotNotOpen):
			http.Error(w, "slot is not open", http.StatusConflict)
		default:
			h.logger.Error("abort cancellation failed", "slot_id", slotID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

type slotView struct {
	SlotID       uuid.UUID `json:"slot_id"`
	ProviderName string    `json:"provider_name,omitempty"`
	Location     string    `json:"location"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListActiveCancellations returns the slots still taking offers.
func (h *AdminHandler) ListActiveCancellations(w http.ResponseWriter, r *http.Request) {
	slots, err := h.waitlist.ListActiveSlots(r.Context())
	if err != nil {
		h.logger.Error("list active cancellations failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]slotView, len(slots))
	for i, s := range slots {
		views[i] = slotView{
			SlotID:       s.ID,
			ProviderName: s.ProviderName,
			Location:     s.Location,
			StartsAt:     s.StartsAt,
			EndsAt:       s.EndsAt,
			Status:       string(s.Status),
			CreatedAt:    s.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": views})
}

type addPatientRequest struct {
	Phone                  string     `json:"phone"`
	DisplayName            string     `json:"display_name,omitempty"`
	ProviderPreference     []string   `json:"provider_preference,omitempty"`
	ProviderTypePreference string     `json:"provider_type_preference,omitempty"`
	TargetApptAt           *time.Time `json:"target_appt_at,omitempty"`
	Urgent                 bool       `json:"urgent,omitempty"`
	ManualBoost            int        `json:"manual_boost,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
}

type addPatientResponse struct {
	EntryID       uuid.UUID `json:"entry_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	PriorityScore int       `json:"priority_score"`
}

// AddPatient puts a patient on the waitlist with an initial priority score.
func (h *AdminHandler) AddPatient(w http.ResponseWriter, r *http.Request) {
	var req addPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Phone == "" {
		http.Error(w, "phone required", http.StatusBadRequest)
		return
	}

	entry, err := h.waitlist.AddToWaitlist(r.Context(), waitlist.AddPatientInput{
		Phone:                  req.Phone,
		DisplayName:            req.DisplayName,
		ProviderPreference:     req.ProviderPreference,
		ProviderTypePreference: req.ProviderTypePreference,
		TargetApptAt:           req.TargetApptAt,
		Urgent:                 req.Urgent,
		ManualBoost:            req.ManualBoost,
		Notes:                  req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, waitlist.ErrDuplicateEntry):
			http.Error(w, "patient already has an active entry", http.StatusConflict)
		case errors.Is(err, waitlist.ErrBoostOutOfRange):
			http.Error(w, "manual_boost must be between 0 and 40", http.StatusBadRequest)
		default:
			h.logger.Error("add patient failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	score := 0
	if entry.PriorityScore != nil {
		score = *entry.PriorityScore
	}
	writeJSON(w, http.StatusCreated, addPatientResponse{
		EntryID:       entry.ID,
		PatientID:     entry.PatientID,
		PriorityScore: score,
	})
}

type boostRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// BoostPatient sets a patient's manual boost and recomputes their score.
func (h *AdminHandler) BoostPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	score, err := h.waitlist.Boost(r.Context(), patientID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, waitlist.ErrBoostOutOfRange):
			http.Error(w, "amount must be between 0 and 40", http.StatusBadRequest)
		case errors.Is(err, waitlist.ErrEntryNotFound):
			http.Error(w, "no active entry for patient", http.StatusNotFound)
		default:
			h.logger.Error("boost failed", "patient_id", patientID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"priority_score": score})
}

// RecalculateScores recomputes every active entry's priority on demand.
func (h *AdminHandler) RecalculateScores(w http.ResponseWriter, r *http.Request) {
	updated, err := h.waitlist.RecalculateScores(r.Context())
	if err != nil {
		h.logger.Error("recalculate scores failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// RemovePatient deactivates a patient's waitlist entry.
func (h *AdminHandler) RemovePatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}

	if err := h.waitlist.RemoveFromWaitlist(r.Context(), patientID); err != nil {
		if errors.Is(err, waitlist.ErrEntryNotFound) {
			http.Error(w, "no active entry for patient", http.StatusNotFound)
			return
		}
		h.logger.Error("remove patient failed", "patient_id", patientID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entryView struct {
	EntryID       uuid.UUID  `json:"entry_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DisplayName   string     `json:"display_name,omitempty"`
	Phone         string     `json:"phone"`
	Urgent        bool       `json:"urgent"`
	ManualBoost   int        `json:"manual_boost"`
	PriorityScore *int       `json:"priority_score"`
	Active        bool       `json:"active"`
	JoinedAt      time.Time  `json:"joined_at"`
	TargetApptAt  *time.Time `json:"target_appt_at,omitempty"`
}

// ListWaitlist returns entries for the dashboard, highest priority first.
func (h *AdminHandler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	activeOnly := r.URL.Query().Get("active") != "false"

	entries, err := h.waitlist.ListWaitlist(r.Context(), limit, activeOnly)
	if err != nil {
		h.logger.Error("list waitlist failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]entryView, len(entries))
	for i, e := range entries {
		views[i] = entryView{
			EntryID:       e.ID,
			PatientID:     e.PatientID,
			DisplayName:   e.DisplayName,
			Phone:         e.Phone,
			Urgent:        e.Urgent,
			ManualBoost:   e.ManualBoost,
			PriorityScore: e.PriorityScore,
			Active:        e.Active,
			JoinedAt:      e.JoinedAt,
			TargetApptAt:  e.TargetApptAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but note it.
		logging.Default().Error("encode response", "error", err)
	}
}
