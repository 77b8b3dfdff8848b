package api

import (
	"net/http"

	"paylink-service/internal/model"
	"paylink-service/internal/paytrace"
)

type createCustomerRequest struct {
	CustomerID      string                   `json:"customerId"`
	CardNumber      string                   `json:"cardNumber"`
	ExpirationMonth string                   `json:"expirationMonth"`
	ExpirationYear  string                   `json:"expirationYear"`
	CVV             string                   `json:"cvv"`
	BillingAddress  *paytrace.BillingAddress `json:"billingAddress"`
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.CustomerID == "" || req.CardNumber == "" || req.ExpirationMonth == "" || req.ExpirationYear == "" {
		h.writeError(w, r, &model.ValidationError{
			Field:  "customerId, cardNumber, expirationMonth, expirationYear",
			Reason: "are required",
		})
		return
	}

	result, err := h.processor.CreateCustomerProfile(r.Context(), paytrace.CreateProfileParams{
		CustomerID:      req.CustomerID,
		CardNumber:      req.CardNumber,
		ExpirationMonth: req.ExpirationMonth,
		ExpirationYear:  req.ExpirationYear,
		CVV:             req.CVV,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"customerId":       result.CustomerID,
		"maskedCardNumber": result.MaskedCardNumber,
	})
}

type updateCustomerRequest struct {
	HPFToken        string                   `json:"hpfToken"`
	EncKey          string                   `json:"encKey"`
	ExpirationMonth string                   `json:"expirationMonth"`
	ExpirationYear  string                   `json:"expirationYear"`
	BillingAddress  *paytrace.BillingAddress `json:"billingAddress"`
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var req updateCustomerRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.processor.UpdateCustomerProfile(r.Context(), paytrace.UpdateProfileParams{
		CustomerID:      r.PathValue("customerId"),
		HPFToken:        req.HPFToken,
		EncKey:          req.EncKey,
		ExpirationMonth: req.ExpirationMonth,
		ExpirationYear:  req.ExpirationYear,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"customerId":       result.CustomerID,
		"maskedCardNumber": result.MaskedCardNumber,
	})
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.processor.ExportCustomerProfile(r.Context(), r.PathValue("customerId"))
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(customer)
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.processor.DeleteCustomerProfile(r.Context(), r.PathValue("customerId")); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
