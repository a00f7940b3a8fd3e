package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/telemetry"
)

const (
	msgNoCredential    = "No Slack token found. Please authenticate first."
	msgSendRequired    = "Channel and text are required."
	msgScheduleMissing = "channel, text, and sendAt (ISO string) required."
	msgNotFound        = "Message not found or already sent."
)

type sendRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type scheduleRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	SendAt  string `json:"sendAt"`
}

// HandleRoot answers the plain-text liveness banner.
func (h *Handlers) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Backend is working!"))
}

// HandleSendMessage posts a message right away, bypassing the queue.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := h.deps.Sender.SendNow(r.Context(), req.Channel, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, schedule.ErrNoCredential):
			writeError(w, http.StatusBadRequest, msgNoCredential)
		case errors.Is(err, schedule.ErrValidation):
			writeError(w, http.StatusBadRequest, msgSendRequired)
		default:
			telemetry.LoggerWithCorr(r.Context()).Warn("immediate send failed",
				slog.String("channel", req.Channel), slog.Any("err", err), slog.String("component", "http"))
			writeError(w, statusFor(err), deliveryMessage(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Message sent!", "ts": ts})
}

// HandleScheduleMessage queues a message for later delivery.
func (h *Handlers) HandleScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Channel == "" || req.Text == "" || strings.TrimSpace(req.SendAt) == "" {
		writeError(w, http.StatusBadRequest, msgScheduleMissing)
		return
	}
	sendAt, err := parseSendAt(req.SendAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "sendAt must be an ISO 8601 timestamp")
		return
	}

	m, err := h.deps.Messages.Create(r.Context(), schedule.CreateRequest{Channel: req.Channel, Text: req.Text, SendAt: sendAt})
	if err != nil {
		if errors.Is(err, schedule.ErrValidation) {
			writeError(w, http.StatusBadRequest, msgScheduleMissing)
			return
		}
		h.storageError(w, r, "schedule message", err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("message scheduled",
		slog.String("id", m.ID), slog.String("channel", m.Channel), slog.Time("send_at", m.SendAt), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Message scheduled!", "id": m.ID})
}

// HandleListScheduled returns the pending messages in queue order.
func (h *Handlers) HandleListScheduled(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.deps.Messages.List(r.Context())
	if err != nil {
		h.storageError(w, r, "list scheduled messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleCancelScheduled removes a pending message by id.
func (h *Handlers) HandleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Messages.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgNotFound)
			return
		}
		h.storageError(w, r, "cancel scheduled message", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduled message canceled.", "id": id})
}

func (h *Handlers) storageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	telemetry.LoggerWithCorr(r.Context()).Error(op+" failed", slog.Any("err", err), slog.String("component", "http"))
	writeError(w, http.StatusInternalServerError, "storage error")
}

// parseSendAt accepts RFC 3339 timestamps, with or without fractional
// seconds, as produced by Date.prototype.toISOString.
func parseSendAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
