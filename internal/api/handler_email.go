package api

import (
	"net/http"

	"portal-conductor/internal/domain"
	"portal-conductor/internal/mailer"
)

type sendEmailRequest struct {
	To       []string `json:"to"`
	BCC      []string `json:"bcc"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HTMLBody string   `json:"html_body"`
}

func (h *Handler) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		h.writeError(w, r, domain.ErrServiceUnavailable("mail relay is not configured"))
		return
	}
	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.To) == 0 {
		h.writeError(w, r, domain.ErrValidation("to is required"))
		return
	}
	if req.TextBody == "" && req.HTMLBody == "" {
		h.writeError(w, r, domain.ErrValidation("text_body or html_body is required"))
		return
	}

	// BCC recipients ride in the envelope only, never in the headers.
	msg := mailer.Message{
		To:       req.To,
		Subject:  req.Subject,
		TextBody: req.TextBody,
		HTMLBody: req.HTMLBody,
	}
	if err := h.sender.SendWithBCC(r.Context(), msg, req.BCC); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
