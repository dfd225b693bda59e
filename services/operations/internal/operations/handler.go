package operations

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
	"github.com/appetiteclub/orderflow/services/operations/internal/reconcile"
)

const MaxBodyBytes = 1 << 20

// OrderWriter sends operator actions to the order service.
type OrderWriter interface {
	Transition(ctx context.Context, id uuid.UUID, version int64, status string) (*orders.Order, error)
	TransitionItem(ctx context.Context, orderID, itemID uuid.UUID, version int64, status string) (*orders.Order, error)
	ConfirmCash(ctx context.Context, id uuid.UUID, version int64, tendered decimal.Decimal) (*orders.Order, decimal.Decimal, error)
	CreatePaymentIntent(ctx context.Context, id uuid.UUID, version int64) (*orders.Order, *payment.Intent, error)
	Sweep(ctx context.Context) (int, error)
}

type Handler struct {
	stations *StationManager
	sessions *SessionStore
	writer   OrderWriter
	audit    *AuditLogger
	logger   apt.Logger
	tlm      *telemetry.HTTP
	now      func() time.Time

	keepalive time.Duration
}

func NewHandler(stations *StationManager, sessions *SessionStore, writer OrderWriter, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return &Handler{
		stations:  stations,
		sessions:  sessions,
		writer:    writer,
		audit:     NewAuditLogger(logger),
		logger:    logger,
		tlm:       telemetry.NewHTTP(),
		now:       time.Now,
		keepalive: 30 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly())
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
	})

	r.Get("/notifications/sound", h.GetSound)
	r.Put("/notifications/sound", h.SetSound)
	r.Get("/alerts", h.ListAlerts)

	r.Route("/stations/{role}", func(r chi.Router) {
		r.Get("/", h.GetStation)
		r.Get("/events", h.StreamStation)
		r.Post("/resync", h.ResyncStation)
		r.Post("/select", h.SelectRow)
		r.Post("/sweeps", h.Sweep)
		r.Post("/orders/{id}/status", h.UpdateStatus)
		r.Post("/orders/{id}/items/{itemID}/status", h.UpdateItemStatus)
		r.Post("/orders/{id}/cash-payments", h.ConfirmCash)
		r.Post("/orders/{id}/payment-intents", h.CreatePaymentIntent)
	})
}

type SessionRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	TTL    string `json:"ttl,omitempty"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateSession")
	defer finish()

	log := h.log(r)

	var req SessionRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	var verrs apt.ValidationErrors
	if req.ID == "" {
		verrs = append(verrs, apt.ValidationError{Field: "id", Code: "required", Message: "session id is required"})
	}
	if req.Role == "" {
		verrs = append(verrs, apt.ValidationError{Field: "role", Code: "required", Message: "role is required"})
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			verrs = append(verrs, apt.ValidationError{Field: "ttl", Code: "invalid", Message: "ttl must be a positive duration"})
		}
		ttl = d
	}
	if len(verrs) > 0 {
		apt.Error(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", verrs...)
		return
	}

	session := &Session{ID: req.ID, UserID: req.UserID, Role: req.Role}
	if ttl > 0 {
		session.CreatedAt = h.now()
		session.ExpiresAt = session.CreatedAt.Add(ttl)
	}
	if err := h.sessions.Save(session); err != nil {
		log.Error("cannot save session", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Cannot save session")
		return
	}

	// Views stay empty while no operator holds their role.
	h.stations.ReloadFor(r.Context(), session.Role)

	log.Info("session registered", "session_id", session.ID, "role", session.Role)
	apt.Respond(w, http.StatusCreated, session, nil)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DeleteSession")
	defer finish()

	h.sessions.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type SoundPreference struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) GetSound(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetSound")
	defer finish()

	apt.RespondSuccess(w, SoundPreference{Enabled: h.stations.Policy().SoundEnabled()})
}

func (h *Handler) SetSound(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SetSound")
	defer finish()

	log := h.log(r)

	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	var req SoundPreference
	if !h.decode(w, r, log, &req) {
		return
	}

	h.stations.Policy().SetSound(req.Enabled)
	apt.RespondSuccess(w, req)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListAlerts")
	defer finish()

	alerts := h.stations.Policy().Alerts()
	if alerts == nil {
		alerts = []string{}
	}
	apt.RespondSuccess(w, map[string][]string{"degraded_channels": alerts})
}

type StationResponse struct {
	reconcile.Snapshot
	Degraded []string `json:"degraded,omitempty"`
}

func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetStation")
	defer finish()

	st, _, ok := h.station(w, r)
	if !ok {
		return
	}

	apt.RespondSuccess(w, StationResponse{
		Snapshot: st.Collection.Snapshot(),
		Degraded: st.Degraded(),
	})
}

func (h *Handler) ResyncStation(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ResyncStation")
	defer finish()

	log := h.log(r)

	st, _, ok := h.station(w, r)
	if !ok {
		return
	}

	if err := st.Collection.Resync(r.Context()); err != nil {
		log.Error("station resync failed", "role", st.Role, "error", err)
		apt.Error(w, http.StatusBadGateway, "resync_failed", "Cannot reach the order service")
		return
	}
	apt.RespondSuccess(w, st.Collection.Snapshot())
}

type SelectRequest struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (h *Handler) SelectRow(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SelectRow")
	defer finish()

	log := h.log(r)

	st, _, ok := h.station(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	if !st.Collection.Select(req.OrderID) {
		apt.Error(w, http.StatusNotFound, "not_found", "order is not in this view")
		return
	}
	apt.RespondSuccess(w, st.Collection.Snapshot())
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Sweep")
	defer finish()

	log := h.log(r)

	st, session, ok := h.station(w, r)
	if !ok {
		return
	}

	expired, err := h.writer.Sweep(r.Context())
	h.audit.LogAction(r.Context(), session, st.Role, "orders.sweep", "", err)
	if err != nil {
		h.respondWriteError(w, log, err)
		return
	}

	st.Collection.Reload(r.Context())
	apt.RespondSuccess(w, SweepResponse{Expired: expired})
}

// requireSession resolves the caller's session or answers 401.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, ok := h.sessions.FromRequest(r)
	if !ok {
		apt.Error(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return nil, false
	}
	return session, true
}

// station resolves the {role} station and checks the caller may work at it.
func (h *Handler) station(w http.ResponseWriter, r *http.Request) (*Station, *Session, bool) {
	st, err := h.stations.Station(chi.URLParam(r, "role"))
	if err != nil {
		apt.Error(w, http.StatusNotFound, "not_found", err.Error())
		return nil, nil, false
	}

	session, ok := h.requireSession(w, r)
	if !ok {
		return nil, nil, false
	}
	if session.Role != st.Collection.View().SessionRole {
		apt.Error(w, http.StatusForbidden, "forbidden", "Session role "+session.Role+" cannot use the "+st.Role+" station")
		return nil, nil, false
	}
	return st, session, true
}

func (h *Handler) respondWriteError(w http.ResponseWriter, log apt.Logger, err error) {
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
		log.Error("order service call failed", "error", err)
		apt.Error(w, http.StatusBadGateway, "upstream_failed", "Cannot reach the order service")
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
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		log.Debug("invalid id parameter", "param", name, "value", chi.URLParam(r, name))
		apt.RespondError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}
