package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the relay control endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Mount registers the handler's routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/start_stream", h.StartStream)
	r.Post("/stop_stream", h.StopStream)
	r.Get("/streams", h.ListStreams)
	r.Get("/streams/{stream_id}", h.GetStream)
}

type stopRequest struct {
	StreamID string `json:"stream_id"`
}

// StartStream handles POST /start_stream.
// Body: { "m3u8_url": ..., "ftp_host": ..., "ftp_user": ..., "ftp_pass": ..., "ftp_path": ... }.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	id, err := h.svc.StartStream(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			msg := "Missing required fields"
			if verr.Reason != reasonMissing {
				msg = verr.Error()
			}
			h.log.Info("start stream rejected", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "fields": verr.Fields})
			return
		}
		h.log.Error("start stream failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not start stream"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "Stream processing started",
		"stream_id": string(id),
	})
}

// StopStream handles POST /stop_stream. Body: { "stream_id": ... }.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}

	if err := h.svc.StopStream(StreamID(req.StreamID)); err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Stream not found"})
			return
		}
		h.log.Error("stop stream failed", slog.String("stream_id", req.StreamID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "Stream stopped"})
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streams": h.svc.ListStreams()})
}

// GetStream handles GET /streams/{stream_id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	stats, ok := h.svc.GetStream(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Stream not found"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
