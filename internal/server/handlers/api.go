// Package handlers provides HTTP handlers and middleware for the Nate
// server's request surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/nate-ai/nate/internal/llm"
	"github.com/nate-ai/nate/internal/speech"
	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// maxUploadBytes caps audio uploads (32 MiB covers several minutes of
// 16 kHz mono WAV).
const maxUploadBytes = 32 << 20

// Service is the orchestrator surface the handlers depend on.
type Service interface {
	EnrollUser(ctx context.Context, username string) (string, error)
	RemoveUser(ctx context.Context, token string) error
	Ask(ctx context.Context, token, prompt string) (string, error)
	Transcribe(ctx context.Context, audio []byte) (string, error)
	EnrollVoice(ctx context.Context, token string, audio []byte) error
	TranscribeIdentify(ctx context.Context, audio []byte) (*types.IdentifyResult, error)
}

// APIHandlers contains the HTTP handlers for the REST API.
type APIHandlers struct {
	service Service
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(service Service) *APIHandlers {
	return &APIHandlers{service: service}
}

// Index lists the available routes.
func (h *APIHandlers) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": map[string]string{
			"/":                          "Displays this message",
			"/healthz":                   "Liveness check",
			"/remove":                    "Remove a user and their data",
			"/messages/ask":              "Query the assistant",
			"/messages/enroll":           "Enroll a user and return a token",
			"/audio/transcribe":          "Transcribe an audio file",
			"/audio/enroll":              "Enroll a user's voice for identification",
			"/audio/transcribe_identify": "Transcribe and identify speakers",
			"/ws":                        "Event stream (WebSocket)",
		},
	})
}

// Health reports liveness.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enrollRequest struct {
	Username string `json:"username"`
}

// Enroll registers a username and returns its session token.
func (h *APIHandlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	token, err := h.service.EnrollUser(r.Context(), req.Username)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type askRequest struct {
	Prompt string `json:"prompt"`
	Token  string `json:"token"`
}

// Ask runs one chat turn for the identity behind the supplied token.
func (h *APIHandlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	reply, err := h.service.Ask(r.Context(), req.Token, req.Prompt)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": reply})
}

type removeRequest struct {
	Token string `json:"token"`
}

// Remove revokes a token and deletes the user's conversation log and
// speaker profile.
func (h *APIHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.service.RemoveUser(r.Context(), req.Token); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "user removed"})
}

// Transcribe returns the transcript of an uploaded audio file.
func (h *APIHandlers) Transcribe(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.readAudioUpload(w, r)
	if !ok {
		return
	}

	transcript, err := h.service.Transcribe(r.Context(), audio)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

// AudioEnroll enrolls the uploaded voice sample for the token in the form.
func (h *APIHandlers) AudioEnroll(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.readAudioUpload(w, r)
	if !ok {
		return
	}

	token := r.FormValue("token")
	if err := h.service.EnrollVoice(r.Context(), token, audio); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "voice enrolled"})
}

// TranscribeIdentify transcribes an upload and attributes each diarized
// segment to an enrolled speaker.
func (h *APIHandlers) TranscribeIdentify(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.readAudioUpload(w, r)
	if !ok {
		return
	}

	result, err := h.service.TranscribeIdentify(r.Context(), audio)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// readAudioUpload parses the multipart "file" field, validates its format,
// and returns the audio bytes. On failure it writes the error response and
// returns ok=false.
func (h *APIHandlers) readAudioUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form", err)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file upload", err)
		return nil, false
	}
	defer func() { _ = file.Close() }()

	if err := speech.ValidateFilename(header.Filename); err != nil {
		respondError(w, http.StatusBadRequest, "unsupported audio format", err)
		return nil, false
	}

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload", err)
		return nil, false
	}

	return audio, true
}

// respondServiceError maps orchestrator errors onto HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token", err)
	case errors.Is(err, storage.ErrDuplicateUser):
		respondError(w, http.StatusConflict, "user already enrolled", err)
	case errors.Is(err, storage.ErrNotEnrolled):
		respondError(w, http.StatusNotFound, "user not enrolled", err)
	case errors.Is(err, storage.ErrNoEnrolledSpeakers):
		respondError(w, http.StatusConflict, "no enrolled speakers", err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input", err)
	case errors.Is(err, speech.ErrUnsupportedFormat):
		respondError(w, http.StatusBadRequest, "unsupported audio format", err)
	case errors.Is(err, speech.ErrPipeline):
		respondError(w, http.StatusBadGateway, "speech pipeline unavailable", err)
	case errors.Is(err, llm.ErrProvider):
		respondError(w, http.StatusBadGateway, "language model unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}

// respondError writes a JSON error response. The detailed error is logged
// server-side; the client sees the short message only.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		log.Printf("ERROR: %s: %v", message, err)
	}
	respondJSON(w, statusCode, map[string]string{"error": message})
}
