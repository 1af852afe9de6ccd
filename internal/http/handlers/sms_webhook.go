package handlers

import (
	"context"
	"net/http"

	"github.com/openslot/waitline/internal/messaging"
	"github.com/openslot/waitline/internal/observability/metrics"
	"github.com/openslot/waitline/internal/waitlist"
	"github.com/openslot/waitline/pkg/logging"
)

// offerEngine is the slice of the orchestrator the webhook needs.
type offerEngine interface {
	Accept(ctx context.Context, phone string) (*waitlist.ClaimResult, error)
	Decline(ctx context.Context, phone string) (*waitlist.DeclineResult, error)
}

// patientDirectory handles STOP requests, including from numbers never seen before.
type patientDirectory interface {
	OptOutPhone(ctx context.Context, q waitlist.Querier, phone string) error
}

// SMSWebhookHandler receives Twilio inbound-message and delivery-status
// callbacks. Replies go out over the REST API rather than as TwiML so they
// share the retry and audit path of every other outbound message.
type SMSWebhookHandler struct {
	engine    offerEngine
	directory patientDirectory
	sender    messaging.Sender
	catalog   *messaging.Catalog
	audit     *messaging.Store
	fromE164  string

	authToken  string
	inboundURL string
	validate   bool

	metrics *metrics.Metrics
	logger  *logging.Logger
}

// SMSWebhookConfig wires the webhook handler.
type SMSWebhookConfig struct {
	Engine    offerEngine
	Directory patientDirectory
	Sender    messaging.Sender
	Catalog   *messaging.Catalog
	Audit     *messaging.Store
	FromE164  string

	// Signature validation; InboundURL is the public URL Twilio posts to.
	AuthToken  string
	InboundURL string
	Validate   bool

	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

func NewSMSWebhookHandler(cfg SMSWebhookConfig) *SMSWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SMSWebhookHandler{
		engine:     cfg.Engine,
		directory:  cfg.Directory,
		sender:     cfg.Sender,
		catalog:    cfg.Catalog,
		audit:      cfg.Audit,
		fromE164:   cfg.FromE164,
		authToken:  cfg.AuthToken,
		inboundURL: cfg.InboundURL,
		validate:   cfg.Validate,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// HandleInbound processes one patient reply. The response body is always
// empty; anything we want to say back is sent as a fresh outbound SMS.
func (h *SMSWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if h.validate && !messaging.ValidateTwilioSignature(r, h.authToken, h.inboundURL) {
		h.logger.Warn("inbound webhook failed signature validation", "remote_ip", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, err := messaging.ParseInbound(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if msg.From == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	if h.audit != nil {
		if err := h.audit.LogInbound(ctx, nil, nil, msg.From, msg.To, msg.Body, msg.MessageSID); err != nil {
			h.logger.Warn("inbound audit log failed", "from", msg.From, "error", err)
		}
	}

	action := messaging.ParseReply(msg.Body)
	h.metrics.IncInboundReply(string(action))
	h.logger.Info("inbound reply", "from", msg.From, "action", action)

	var reply string
	switch action {
	case messaging.ActionAccept:
		res, err := h.engine.Accept(ctx, msg.From)
		if err != nil {
			h.logger.Error("accept failed", "from", msg.From, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		reply = res.Reply
	case messaging.ActionDecline:
		res, err := h.engine.Decline(ctx, msg.From)
		if err != nil {
			h.logger.Error("decline failed", "from", msg.From, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		reply = res.Reply
	case messaging.ActionOptOut:
		if err := h.directory.OptOutPhone(ctx, nil, msg.From); err != nil {
			h.logger.Error("opt-out failed", "from", msg.From, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		reply = h.catalog.OptOutConfirmation()
	case messaging.ActionHelp:
		reply = h.catalog.HelpText()
	default:
		reply = h.catalog.Unrecognized()
	}

	h.sendReply(ctx, msg.From, reply)
	w.WriteHeader(http.StatusOK)
}

// sendReply texts back best-effort. A lost acknowledgment is annoying but the
// state change already committed, so it never fails the webhook.
func (h *SMSWebhookHandler) sendReply(ctx context.Context, to, body string) {
	if body == "" {
		return
	}
	sid, err := h.sender.Send(ctx, to, body)
	status := "sent"
	if err != nil {
		h.logger.Error("reply send failed", "to", to, "error", err)
		status = "failed"
	}
	if h.audit != nil {
		if aerr := h.audit.LogOutbound(ctx, nil, nil, h.fromE164, to, body, sid, status); aerr != nil {
			h.logger.Warn("reply audit log failed", "to", to, "error", aerr)
		}
	}
}

// HandleStatus applies Twilio delivery-status callbacks to the message log.
func (h *SMSWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cb, err := messaging.ParseStatusCallback(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if cb.MessageSID == "" {
		http.Error(w, "missing MessageSid", http.StatusBadRequest)
		return
	}

	if cb.ErrorCode != "" {
		h.logger.Warn("delivery failed",
			"provider_sid", cb.MessageSID,
			"status", cb.Status,
			"error_code", cb.ErrorCode,
		)
	}

	if h.audit != nil {
		if err := h.audit.UpdateDeliveryStatus(r.Context(), cb.MessageSID, cb.Status, cb.ErrorCode, cb.ErrorMessage); err != nil {
			h.logger.Error("delivery status update failed", "provider_sid", cb.MessageSID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
