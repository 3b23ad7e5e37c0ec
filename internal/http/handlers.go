package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/booking"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
)

type Service interface {
	StartCheckout(ctx context.Context, req booking.CheckoutRequest) (domain.Hold, error)
	Confirm(ctx context.Context, holdID uuid.UUID, userID string, passenger domain.PassengerDetails) (domain.Reservation, error)
	Abandon(ctx context.Context, holdID uuid.UUID, userID string) error
	Extend(ctx context.Context, holdID uuid.UUID, userID string) (domain.Hold, error)
	SeatMap(ctx context.Context, departureID uuid.UUID) ([]domain.Seat, error)
	Reservations(ctx context.Context, userID string) ([]domain.Reservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID, userID string) error
}

type DepartureSearcher interface {
	SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	svc        Service
	departures DepartureSearcher
	readiness  map[string]Pinger
}

func NewHandlers(svc Service, departures DepartureSearcher, readiness map[string]Pinger) *Handlers {
	return &Handlers{svc: svc, departures: departures, readiness: readiness}
}

type holdResponse struct {
	HoldID      uuid.UUID `json:"hold_id"`
	DepartureID uuid.UUID `json:"departure_id"`
	Seats       []string  `json:"seats"`
	ExpiresAt   string    `json:"expires_at"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		HoldID:      h.ID,
		DepartureID: h.DepartureID,
		Seats:       h.Seats,
		ExpiresAt:   h.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *Handlers) SearchDepartures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.departures.SearchDepartures(r.Context(), q.Get("origin"), q.Get("destination"))
	if err != nil {
		writeError(w, r, domain.StorageFailure(err))
		return
	}
	if list == nil {
		list = []domain.Departure{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"departures": list})
}

func (h *Handlers) SeatMap(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	seats, err := h.svc.SeatMap(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"departure_id": id, "seats": seats})
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DepartureID    uuid.UUID `json:"departure_id"`
		Seats          []string  `json:"seats"`
		PassengerCount int       `json:"passenger_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	hold, err := h.svc.StartCheckout(r.Context(), booking.CheckoutRequest{
		DepartureID:    req.DepartureID,
		Seats:          req.Seats,
		PassengerCount: req.PassengerCount,
		UserID:         UserID(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHoldResponse(hold))
}

func (h *Handlers) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	res, err := h.svc.Confirm(r.Context(), id, UserID(r.Context()), domain.PassengerDetails{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) ExtendHold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	hold, err := h.svc.Extend(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldResponse(hold))
}

func (h *Handlers) AbandonHold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Abandon(r.Context(), id, UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Reservations(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": list})
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), id, UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeBadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrInvalidSeatSet, http.StatusBadRequest, "invalid_seat_set"},
	{domain.ErrSeatCountMismatch, http.StatusBadRequest, "seat_count_mismatch"},
	{domain.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{domain.ErrHoldExpired, http.StatusGone, "hold_expired"},
	{domain.ErrHoldNotFound, http.StatusNotFound, "hold_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
	{domain.ErrStorageFailure, http.StatusServiceUnavailable, "storage_failure"},
	{domain.ErrSeatUnavailable, http.StatusConflict, "seat_unavailable"},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.target) {
			if e.status >= http.StatusInternalServerError {
				LoggerFrom(r.Context()).WithError(err).Error("request failed")
			}
			writeJSON(w, e.status, errorResponse{Error: e.code, Message: err.Error()})
			return
		}
	}
	LoggerFrom(r.Context()).WithError(err).Error("unhandled error")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
