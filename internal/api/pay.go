package api

import (
	"context"
	"net/http"
	"time"

	"paylink-service/internal/model"
	"paylink-service/internal/paytrace"
)

func (h *Handler) payData(w http.ResponseWriter, r *http.Request) {
	l, err := h.links.Get(r.Context(), r.PathValue("linkId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if l.Status != model.StatusPending {
		h.writeError(w, r, model.InvalidTransition("pay", l.Status))
		return
	}

	// only the fields the payment form needs
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"linkId":        l.LinkID,
		"customerName":  l.CustomerName,
		"customerEmail": l.CustomerEmail,
		"customerId":    l.CustomerID,
		"invoiceNumber": l.InvoiceNumber,
		"amount":        l.Amount,
		"description":   l.Description,
		"expiresAt":     l.ExpiresAt,
	})
}

type payRequest struct {
	CardNumber      string                   `json:"cardNumber"`
	ExpirationMonth string                   `json:"expirationMonth"`
	ExpirationYear  string                   `json:"expirationYear"`
	CVV             string                   `json:"cvv"`
	BillingAddress  *paytrace.BillingAddress `json:"billingAddress"`
}

// pay submits the card to the processor and completes the link. The
// processor call happens before the completion transition, so no network
// I/O runs under the per-link lock.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	l, err := h.links.Get(r.Context(), r.PathValue("linkId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if l.Status != model.StatusPending {
		h.writeError(w, r, model.InvalidTransition("pay", l.Status))
		return
	}

	var req payRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.CardNumber == "" || req.ExpirationMonth == "" || req.ExpirationYear == "" {
		h.writeError(w, r, &model.ValidationError{Field: "card details", Reason: "are incomplete"})
		return
	}

	billing := req.BillingAddress
	if billing == nil {
		billing = &paytrace.BillingAddress{Name: l.CustomerName}
	}

	result, err := h.processor.CreateCustomerProfile(r.Context(), paytrace.CreateProfileParams{
		CustomerID:      l.CustomerID,
		CardNumber:      req.CardNumber,
		ExpirationMonth: req.ExpirationMonth,
		ExpirationYear:  req.ExpirationYear,
		CVV:             req.CVV,
		BillingAddress:  billing,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	completed, err := h.links.Complete(r.Context(), l.LinkID, result.MaskedCardNumber, result.CustomerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.mailer.Configured() {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
			defer cancel()
			if err := h.mailer.SendConfirmation(ctx, completed); err != nil {
				h.logger.ErrorContext(ctx, "Error sending confirmation email", "linkId", completed.LinkID, "error", err)
			}
		}()
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"maskedCardNumber": result.MaskedCardNumber,
		"customerId":       result.CustomerID,
	})
}
