package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

// Sender delivers a rendered text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender records messages in the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, phone, message string) error {
	s.Logger.InfoContext(ctx, "message sent", "phone", phone, "message", message)
	return nil
}

type Handler struct {
	sender Sender
	logger *slog.Logger
}

func NewHandler(sender Sender, logger *slog.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger,
	}
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Phone == "" {
		h.writeError(w, http.StatusBadRequest, "missing phone")
		return
	}
	if req.OrderNumber == "" {
		h.writeError(w, http.StatusBadRequest, "missing order number")
		return
	}
	if req.Type != domain.NotificationAccepted {
		h.writeError(w, http.StatusBadRequest, "unsupported notification type")
		return
	}

	message := RenderAccepted(req)
	if err := h.sender.Send(r.Context(), req.Phone, message); err != nil {
		h.logger.Error("failed to send notification", "error", err, "order_number", req.OrderNumber)
		h.writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}

	h.logger.Info("notification sent", "order_number", req.OrderNumber, "type", req.Type)
	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", Message: message})
}

// RenderAccepted formats the text a customer receives once the kitchen
// accepts their order.
func RenderAccepted(req domain.NotificationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comanda %s a fost acceptata.\n", req.OrderNumber)
	for _, item := range req.Items {
		fmt.Fprintf(&b, "%dx %s - %s lei\n", item.Quantity, item.Name, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s lei\n", req.Total.StringFixed(2))
	if req.EstimatedTime != "" {
		fmt.Fprintf(&b, "Timp estimat de preparare: %s minute.", req.EstimatedTime)
	}
	return strings.TrimRight(b.String(), "\n")
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
