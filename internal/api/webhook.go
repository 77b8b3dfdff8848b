package api

import (
	"net/http"

	"paylink-service/internal/link"
)

type zohoSignPayload struct {
	Requests struct {
		RequestID     string `json:"request_id"`
		RequestStatus string `json:"request_status"`
		Actions       []struct {
			ActionType     string `json:"action_type"`
			ActionStatus   string `json:"action_status"`
			RecipientEmail string `json:"recipient_email"`
			RecipientName  string `json:"recipient_name"`
		} `json:"actions"`
		DocumentIDs []struct {
			DocumentName string `json:"document_name"`
		} `json:"document_ids"`
	} `json:"requests"`
}

// zohoSignWebhook creates a payment link for the signer of a freshly sent
// document. The endpoint always acknowledges with 200 so the sender does
// not retry endlessly.
func (h *Handler) zohoSignWebhook(w http.ResponseWriter, r *http.Request) {
	var payload zohoSignPayload
	if err := h.decode(r, &payload); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	req := payload.Requests
	if req.RequestStatus != "inprogress" {
		h.writeJSON(w, http.StatusOK, map[string]any{"received": true, "status": req.RequestStatus})
		return
	}

	var signerEmail, signerName string
	for _, action := range req.Actions {
		if action.ActionType == "SIGN" && action.RecipientEmail != "" && action.ActionStatus != "COMPLETED" {
			signerEmail = action.RecipientEmail
			signerName = action.RecipientName
			break
		}
	}
	if signerEmail == "" {
		h.writeJSON(w, http.StatusOK, map[string]any{"received": true, "message": "No signer found"})
		return
	}

	documentName := "Document"
	if len(req.DocumentIDs) > 0 && req.DocumentIDs[0].DocumentName != "" {
		documentName = req.DocumentIDs[0].DocumentName
	}

	l, err := h.links.Create(r.Context(), link.CreateParams{
		CustomerEmail: signerEmail,
		CustomerName:  signerName,
		InvoiceNumber: req.RequestID,
		Description:   "Card on File - " + documentName,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error creating payment link from webhook", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]any{"received": true, "error": err.Error()})
		return
	}

	if h.mailer.Configured() {
		if err := h.mailer.SendPaymentLink(r.Context(), l); err != nil {
			h.logger.ErrorContext(r.Context(), "Error sending payment link email", "linkId", l.LinkID, "error", err)
		} else if _, err := h.links.MarkEmailSent(r.Context(), l.LinkID); err != nil {
			h.logger.ErrorContext(r.Context(), "Error marking email sent", "linkId", l.LinkID, "error", err)
		}
	} else {
		h.logger.WarnContext(r.Context(), "Email not configured, payment link created but not sent", "linkId", l.LinkID)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"received":           true,
		"paymentLinkCreated": true,
		"linkId":             l.LinkID,
	})
}
