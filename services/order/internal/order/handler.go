package order

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger  apt.Logger
	tlm     *telemetry.HTTP
	service *Service
}

func NewHandler(service *Service, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return &Handler{
		logger:  logger,
		tlm:     telemetry.NewHTTP(),
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.Checkout)
		r.Get("/", h.ListOrders)
		r.Post("/sweeps", h.Sweep)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.DeleteOrder)
		r.Patch("/{id}/status", h.UpdateStatus)
		r.Patch("/{id}/payment-status", h.UpdatePaymentStatus)
		r.Post("/{id}/cash-payments", h.ConfirmCash)
		r.Post("/{id}/payment-intents", h.CreatePaymentIntent)
		r.Patch("/{id}/items/{itemID}/status", h.UpdateItemStatus)
	})

	r.Post("/quotes", h.Quote)
}

type StatusUpdateRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type PaymentStatusUpdateRequest struct {
	PaymentStatus string `json:"payment_status"`
	Version       int64  `json:"version"`
}

type CashPaymentRequest struct {
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	Version        int64           `json:"version"`
}

type CashPaymentResponse struct {
	Order  *orders.Order   `json:"order"`
	Change decimal.Decimal `json:"change"`
}

type PaymentIntentRequest struct {
	Version int64 `json:"version"`
}

type PaymentIntentResponse struct {
	Order  *orders.Order   `json:"order"`
	Intent *payment.Intent `json:"intent"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Checkout")
	defer finish()

	log := h.log(r)

	var req CheckoutRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, err := h.service.Checkout(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusCreated, o, nil)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Quote")
	defer finish()

	log := h.log(r)

	var req QuoteRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	quote, err := h.service.Quote(req)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	apt.RespondSuccess(w, quote)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	o, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	links := apt.RESTfulLinksFor(o)
	apt.RespondSuccess(w, o, links...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)

	q, err := orders.ParseQuery(r.URL.Query())
	if err != nil {
		log.Debug("invalid order query", "error", err)
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.service.List(r.Context(), q)
	if err != nil {
		log.Error("error retrieving orders", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve orders")
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}

	apt.RespondCollection(w, list, "order")
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateStatus")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	var req StatusUpdateRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, err := h.service.Transition(r.Context(), id, req.Version, req.Status)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	log.Info("order status changed", "order_id", id.String(), "status", o.Status, "version", o.Version)
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdatePaymentStatus")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	var req PaymentStatusUpdateRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, err := h.service.TransitionPayment(r.Context(), id, req.Version, req.PaymentStatus)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	log.Info("payment status changed", "order_id", id.String(), "payment_status", o.PaymentStatus, "version", o.Version)
	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConfirmCash")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	var req CashPaymentRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, change, err := h.service.ConfirmCash(r.Context(), id, req.Version, req.AmountTendered)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	apt.RespondSuccess(w, CashPaymentResponse{Order: o, Change: change})
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreatePaymentIntent")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	var req PaymentIntentRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, intent, err := h.service.CreatePaymentIntent(r.Context(), id, req.Version)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	apt.Respond(w, http.StatusCreated, PaymentIntentResponse{Order: o, Intent: intent}, nil)
}

func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateItemStatus")
	defer finish()

	log := h.log(r)

	orderID, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}
	itemID, ok := h.parseIDParam(w, r, log, "itemID")
	if !ok {
		return
	}

	var req StatusUpdateRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	o, err := h.service.TransitionItem(r.Context(), orderID, itemID, req.Version, req.Status)
	if err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	apt.RespondSuccess(w, o, apt.RESTfulLinksFor(o)...)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DeleteOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log, "id")
	if !ok {
		return
	}

	if err := h.service.SoftDelete(r.Context(), id); err != nil {
		h.respondServiceError(w, log, err)
		return
	}

	log.Info("order deleted", "order_id", id.String())
	apt.Respond(w, http.StatusNoContent, nil, nil)
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Sweep")
	defer finish()

	log := h.log(r)

	expired, err := h.service.Sweep(r.Context())
	if err != nil {
		log.Error("sweep failed", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not sweep orders")
		return
	}

	apt.RespondSuccess(w, SweepResponse{Expired: expired})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, log apt.Logger, err error) {
	var verrs apt.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		apt.Error(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", verrs...)
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrItemNotFound), errors.Is(err, orders.ErrDeleted):
		apt.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, orders.ErrStaleWrite):
		apt.Error(w, http.StatusConflict, "stale_write", err.Error())
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrTerminalState):
		apt.Error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, orders.ErrItemGated):
		apt.Error(w, http.StatusConflict, "item_gated", err.Error())
	case errors.Is(err, payment.ErrInsufficientTender):
		apt.Error(w, http.StatusUnprocessableEntity, "insufficient_tender", err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		apt.Error(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	case errors.Is(err, payment.ErrProviderUnavailable):
		log.Error("payment provider unavailable", "error", err)
		apt.Error(w, http.StatusBadGateway, "provider_unavailable", "Payment provider unavailable")
	default:
		log.Error("order operation failed", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log apt.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}

	return true
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger, name string) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, name)
	if idStr == "" {
		log.Debug("missing id parameter", "param", name)
		apt.RespondError(w, http.StatusBadRequest, "Missing "+name+" parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "param", name, "value", idStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}
