package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/pipeline"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// SpeechHandler is the submission and polling surface for the chat backend.
type SpeechHandler struct {
	pipeline *pipeline.Pipeline
}

func NewSpeechHandler(p *pipeline.Pipeline) *SpeechHandler {
	return &SpeechHandler{pipeline: p}
}

type submitRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed,omitempty"`
	Style    string  `json:"style,omitempty"`
	Priority string  `json:"priority,omitempty"` // high | standard | batch
}

// Submit resolves a synthesis request. Cache hits return the artifact
// reference immediately; everything else returns a job ID to poll.
func (h *SpeechHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.pipeline.Submit(r.Context(), speech.Request{
		Text:  req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
		Style: req.Style,
		Lane:  speech.Lane(req.Priority),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusAccepted
	if result.CacheHit {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// Status reports the externally visible job state.
func (h *SpeechHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	result, err := h.pipeline.Status(r.Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Audio streams the synthesized artifact for a succeeded job.
func (h *SpeechHandler) Audio(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	data, contentType, err := h.pipeline.Artifact(r.Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Cancel marks a job cancelled. In-flight jobs finish but their result is
// discarded.
func (h *SpeechHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	err := h.pipeline.Cancel(r.Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if errors.Is(err, pipeline.ErrNotCancellable) {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}
