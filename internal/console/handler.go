package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/kitchen-console/internal/alert"
	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/lifecycle"
	"github.com/joao-fontenele/kitchen-console/internal/staff"
	"github.com/joao-fontenele/kitchen-console/internal/telemetry"
)

const keepAliveInterval = 25 * time.Second

type Handler struct {
	manager *Manager
	ringWAV []byte
	logger  *slog.Logger
}

func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	ringWAV, err := alert.RenderWAV(alert.RingPattern(), alert.DefaultSampleRate)
	if err != nil {
		logger.Error("failed to render ring", "error", err)
	}

	return &Handler{
		manager: manager,
		ringWAV: ringWAV,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"POST /sessions":                              h.HandleOpen,
		"DELETE /sessions/{id}":                       h.HandleClose,
		"GET /sessions/{id}/orders":                   h.HandleOrders,
		"GET /sessions/{id}/orders/today":             h.HandleToday,
		"GET /sessions/{id}/history/{status}":         h.HandleHistory,
		"GET /sessions/{id}/summary":                  h.HandleSummary,
		"GET /sessions/{id}/alert":                    h.HandleAlert,
		"GET /sessions/{id}/events":                   h.HandleEvents,
		"POST /sessions/{id}/orders/{orderId}/accept": h.HandleAccept,
		"POST /sessions/{id}/orders/{orderId}/reject": h.HandleReject,
		"POST /sessions/{id}/refresh":                 h.HandleRefresh,
		"GET /alert/ring.wav":                         h.HandleRing,
	}
	for pattern, fn := range routes {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(fn))
	}
}

type openSessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	Staff     domain.Staff `json:"staff"`
	OpenedAt  time.Time    `json:"opened_at"`
	Degraded  bool         `json:"degraded"`
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.manager.Open(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, staff.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("failed to open session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: s.ID,
		Staff:     s.Staff,
		OpenedAt:  s.OpenedAt,
		Degraded:  s.Degraded(),
	})
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(r.PathValue("id")); err != nil {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.Orders())
}

func (h *Handler) HandleToday(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.TodayPending())
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	days, err := s.History(domain.OrderStatus(r.PathValue("status")))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, days)
}

type summaryResponse struct {
	TodayPending int  `json:"today_pending"`
	Paid         int  `json:"paid"`
	Rejected     int  `json:"rejected"`
	Degraded     bool `json:"degraded"`
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	summary := s.Summary()
	h.writeJSON(w, http.StatusOK, summaryResponse{
		TodayPending: summary.TodayPending,
		Paid:         summary.Paid,
		Rejected:     summary.Rejected,
		Degraded:     s.Degraded(),
	})
}

func (h *Handler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	current, active := s.Alert()
	if !active {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, current)
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.OrderStatusPaid, nil)
}

type rejectRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, domain.OrderStatusRejected, req.Reason)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status domain.OrderStatus, reason *string) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	orderID := r.PathValue("orderId")
	order, err := s.Transition(r.Context(), orderID, status, reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionClosed):
			h.writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, lifecycle.ErrInvalidState):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, lifecycle.ErrPersistenceFailure):
			h.writeError(w, http.StatusBadGateway, "order status could not be saved, try again")
		default:
			h.logger.Error("transition failed", "error", err, "order_id", orderID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Refresh(r.Context()); err != nil {
		h.logger.Error("refresh failed", "error", err, "session_id", s.ID)
		h.writeError(w, http.StatusBadGateway, "orders could not be loaded")
		return
	}
	h.writeJSON(w, http.StatusOK, s.Orders())
}

// HandleEvents streams session events as server-sent events until the client
// goes away or the session closes.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := s.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not supported", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *Handler) HandleRing(w http.ResponseWriter, r *http.Request) {
	if len(h.ringWAV) == 0 {
		h.writeError(w, http.StatusServiceUnavailable, "ring unavailable")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.ringWAV)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
