package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature validates that a request came from Twilio
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	payload := buildSignaturePayload(webhookURL, r.PostForm)
	expected := computeSignature(payload, authToken)

	return hmac.Equal([]byte(signature), []byte(expected))
}

// buildSignaturePayload creates the payload string for signature verification:
// the full webhook URL followed by every POST param concatenated in key order.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// InboundMessage is the parsed form of a Twilio inbound SMS webhook.
type InboundMessage struct {
	MessageSID string
	AccountSID string
	From       string
	To         string
	Body       string
}

// ParseInbound parses a Twilio inbound webhook request.
func ParseInbound(r *http.Request) (*InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse inbound form: %w", err)
	}
	return &InboundMessage{
		MessageSID: r.FormValue("MessageSid"),
		AccountSID: r.FormValue("AccountSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       r.FormValue("Body"),
	}, nil
}

// StatusCallback is the parsed form of a Twilio delivery status webhook.
type StatusCallback struct {
	MessageSID   string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// ParseStatusCallback parses a Twilio status callback request.
func ParseStatusCallback(r *http.Request) (*StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse status form: %w", err)
	}
	return &StatusCallback{
		MessageSID:   r.FormValue("MessageSid"),
		Status:       r.FormValue("MessageStatus"),
		ErrorCode:    r.FormValue("ErrorCode"),
		ErrorMessage: r.FormValue("ErrorMessage"),
	}, nil
}
