package contact

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/inquiry-relay/internal/intake"
	"github.com/shineum/inquiry-relay/internal/quota"
	"github.com/shineum/inquiry-relay/internal/relay"
)

// Response messages shown to the visitor.
const (
	msgDelivered            = "Thank you. Your message has been sent."
	msgMethodNotAllowed     = "method not allowed"
	msgMalformed            = "the form data could not be read"
	msgTooLarge             = "the upload is too large"
	msgQuota                = "one or more attachments exceed the allowed limits"
	msgTransportUnavailable = "the mail service is temporarily unavailable, please try again later"
	msgSendFailed           = "your message could not be sent, please try again"
	msgInternal             = "internal server error"
)

type successResponse struct {
	Message        string            `json:"message"`
	FilesProcessed int               `json:"filesProcessed"`
	FilesSkipped   []quota.Rejection `json:"filesSkipped,omitempty"`
}

type errorResponse struct {
	Error         string            `json:"error"`
	MissingFields []string          `json:"missingFields,omitempty"`
	RejectedFiles []quota.Rejection `json:"rejectedFiles,omitempty"`
}

// Handler serves the contact form endpoint.
type Handler struct {
	decoder *intake.Decoder
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(decoder *intake.Decoder, service *Service) *Handler {
	return &Handler{decoder: decoder, service: service}
}

// ServeHTTP accepts only POST with a multipart body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: msgMethodNotAllowed})
		return
	}

	ctx := r.Context()
	log := slog.With("request_id", middleware.GetReqID(ctx))

	sub, err := h.decoder.DecodeRequest(w, r)
	if err != nil {
		log.Warn("rejected contact form body", "error", err)
		if errors.Is(err, intake.ErrBodyTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgTooLarge})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMalformed})
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Warn("failed to remove spooled attachments", "error", err)
		}
	}()

	res, err := h.service.Submit(ctx, sub)
	if err != nil {
		status, body := errorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("contact submission failed", "status", status, "error", err)
		} else {
			log.Info("contact submission rejected", "status", status, "error", err)
		}
		writeJSON(w, status, body)
		return
	}

	log.Info("contact submission delivered",
		"message_id", res.MessageID,
		"files_processed", res.FilesProcessed,
		"files_skipped", len(res.FilesSkipped),
	)
	writeJSON(w, http.StatusOK, successResponse{
		Message:        msgDelivered,
		FilesProcessed: res.FilesProcessed,
		FilesSkipped:   res.FilesSkipped,
	})
}

// errorStatus maps a Submit error to its status code and body.
func errorStatus(err error) (int, errorResponse) {
	var (
		missing  *MissingFieldsError
		quotaErr *QuotaError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, errorResponse{Error: missing.Error(), MissingFields: missing.Fields}
	case errors.As(err, &quotaErr):
		return http.StatusRequestEntityTooLarge, errorResponse{Error: msgQuota, RejectedFiles: quotaErr.Rejected}
	case errors.Is(err, relay.ErrTransportUnavailable):
		return http.StatusInternalServerError, errorResponse{Error: msgTransportUnavailable}
	case errors.Is(err, relay.ErrSendFailed):
		return http.StatusInternalServerError, errorResponse{Error: msgSendFailed}
	default:
		return http.StatusInternalServerError, errorResponse{Error: msgInternal}
	}
}

// writeJSON writes v as application/json with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
