package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"paylink-service/internal/email"
	"paylink-service/internal/link"
	"paylink-service/internal/logging"
	"paylink-service/internal/model"
	"paylink-service/internal/paytrace"
	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/pkg/errors"
	"github.com/rs/cors"
)

// Handler exposes the payment link service over HTTP. It holds no state of
// its own: every route is a thin translation between the wire format and
// the lifecycle service or the processor client.
type Handler struct {
	links     *link.Service
	processor *paytrace.Client
	mailer    *email.Sender
	logger    *slog.Logger
	appURL    string
}

func NewHandler(links *link.Service, processor *paytrace.Client, mailer *email.Sender, logger *slog.Logger, appURL string) *Handler {
	return &Handler{
		links:     links,
		processor: processor,
		mailer:    mailer,
		logger:    logger,
		appURL:    appURL,
	}
}

// Routes assembles the mux with CORS and per-request correlation IDs.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/payment-links", h.createLink)
	mux.HandleFunc("GET /api/payment-links", h.listLinks)
	mux.HandleFunc("GET /api/payment-links/stats", h.stats)
	mux.HandleFunc("GET /api/payment-links/{linkId}", h.getLink)
	mux.HandleFunc("POST /api/payment-links/{linkId}/send-email", h.sendLinkEmail)
	mux.HandleFunc("POST /api/payment-links/{linkId}/cancel", h.cancelLink)
	mux.HandleFunc("DELETE /api/payment-links/{linkId}", h.deleteLink)

	mux.HandleFunc("GET /api/pay/{linkId}", h.payData)
	mux.HandleFunc("POST /api/pay/{linkId}", h.pay)

	mux.HandleFunc("POST /api/webhooks/zoho-sign", h.zohoSignWebhook)

	mux.HandleFunc("POST /api/customers", h.createCustomer)
	mux.HandleFunc("GET /api/customers/{customerId}", h.getCustomer)
	mux.HandleFunc("PUT /api/customers/{customerId}", h.updateCustomer)
	mux.HandleFunc("DELETE /api/customers/{customerId}", h.deleteCustomer)

	return alice.New(h.requestID, cors.AllowAll().Handler).Then(mux)
}

// requestID stamps every request with a correlation ID carried through the
// log context.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.AppendCtx(r.Context(), slog.String("requestId", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// linkResponse decorates the stored record with the customer-facing URL.
type linkResponse struct {
	*model.PaymentLink
	PaymentURL string `json:"paymentUrl"`
}

func (h *Handler) linkResponse(l *model.PaymentLink) linkResponse {
	return linkResponse{PaymentLink: l, PaymentURL: h.appURL + "/pay/" + l.LinkID}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *model.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, paytrace.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, paytrace.ErrAuth):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	return nil
}
