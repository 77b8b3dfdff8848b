package api

import (
	"net/http"
	"strconv"

	"paylink-service/internal/link"
	"paylink-service/internal/model"
)

type createLinkRequest struct {
	CustomerEmail string   `json:"customerEmail"`
	CustomerName  string   `json:"customerName"`
	CustomerID    string   `json:"customerId"`
	InvoiceNumber string   `json:"invoiceNumber"`
	Amount        *float64 `json:"amount"`
	Description   string   `json:"description"`
	ExpiresInDays *int     `json:"expiresInDays"`
	SendEmail     bool     `json:"sendEmail"`
}

func (h *Handler) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	l, err := h.links.Create(r.Context(), link.CreateParams{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerID:    req.CustomerID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        req.Amount,
		Description:   req.Description,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	emailSent := false
	if req.SendEmail {
		if !h.mailer.Configured() {
			h.logger.WarnContext(r.Context(), "Email requested but not configured", "linkId", l.LinkID)
		} else if err := h.mailer.SendPaymentLink(r.Context(), l); err != nil {
			h.logger.ErrorContext(r.Context(), "Error sending payment link email", "linkId", l.LinkID, "error", err)
		} else {
			if updated, err := h.links.MarkEmailSent(r.Context(), l.LinkID); err == nil {
				l = updated
			}
			emailSent = true
		}
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"paymentLink": h.linkResponse(l),
		"emailSent":   emailSent,
	})
}

func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	filter := link.ListFilter{Status: model.Status(r.URL.Query().Get("status"))}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &model.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		filter.Limit = limit
	}

	links, err := h.links.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	responses := make([]linkResponse, 0, len(links))
	for _, l := range links {
		responses = append(responses, h.linkResponse(l))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(responses),
		"links":   responses,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (h *Handler) getLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.links.Get(r.Context(), r.PathValue("linkId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"paymentLink": h.linkResponse(l),
	})
}

func (h *Handler) sendLinkEmail(w http.ResponseWriter, r *http.Request) {
	l, err := h.links.Get(r.Context(), r.PathValue("linkId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if l.Status != model.StatusPending {
		h.writeError(w, r, model.InvalidTransition("send email for", l.Status))
		return
	}

	if !h.mailer.Configured() {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":      "email is not configured",
			"paymentUrl": h.appURL + "/pay/" + l.LinkID,
		})
		return
	}

	if err := h.mailer.SendPaymentLink(r.Context(), l); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.links.MarkEmailSent(r.Context(), l.LinkID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email sent to " + l.CustomerEmail,
	})
}

func (h *Handler) cancelLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.links.Cancel(r.Context(), r.PathValue("linkId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"paymentLink": h.linkResponse(l),
	})
}

func (h *Handler) deleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Delete(r.Context(), r.PathValue("linkId")); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
