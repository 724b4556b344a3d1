package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nate-ai/nate/internal/llm"
	"github.com/nate-ai/nate/internal/session"
	"github.com/nate-ai/nate/internal/speech"
	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/pkg/types"
)

// stubService is a canned Service implementation for handler tests.
type stubService struct {
	token      string
	reply      string
	transcript string
	result     *types.IdentifyResult
	err        error

	gotToken  string
	gotPrompt string
	gotAudio  []byte
}

func (s *stubService) EnrollUser(ctx context.Context, username string) (string, error) {
	return s.token, s.err
}

func (s *stubService) RemoveUser(ctx context.Context, token string) error {
	s.gotToken = token
	return s.err
}

func (s *stubService) Ask(ctx context.Context, token, prompt string) (string, error) {
	s.gotToken = token
	s.gotPrompt = prompt
	return s.reply, s.err
}

func (s *stubService) Transcribe(ctx context.Context, audio []byte) (string, error) {
	s.gotAudio = audio
	return s.transcript, s.err
}

func (s *stubService) EnrollVoice(ctx context.Context, token string, audio []byte) error {
	s.gotToken = token
	s.gotAudio = audio
	return s.err
}

func (s *stubService) TranscribeIdentify(ctx context.Context, audio []byte) (*types.IdentifyResult, error) {
	s.gotAudio = audio
	return s.result, s.err
}

// multipartBody builds a multipart form with one file field plus extra
// string fields, returning the body and its content type.
func multipartBody(t *testing.T, filename string, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(audio)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestEnrollReturnsToken(t *testing.T) {
	svc := &stubService{token: "tok-123"}
	h := NewAPIHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/messages/enroll", strings.NewReader(`{"username":"alice"}`))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", decodeBody(t, rec)["token"])
}

func TestEnrollDuplicateUser(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("%w: alice", storage.ErrDuplicateUser)}
	h := NewAPIHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/messages/enroll", strings.NewReader(`{"username":"alice"}`))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnrollBadBody(t *testing.T) {
	h := NewAPIHandlers(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/messages/enroll", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	svc := &stubService{reply: "hello alice"}
	h := NewAPIHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/messages/ask",
		strings.NewReader(`{"prompt":"hi","token":"tok-123"}`))
	rec := httptest.NewRecorder()
	h.Ask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello alice", decodeBody(t, rec)["message"])
	assert.Equal(t, "tok-123", svc.gotToken)
	assert.Equal(t, "hi", svc.gotPrompt)
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", storage.ErrInvalidToken, http.StatusUnauthorized},
		{"provider down", llm.ErrProvider, http.StatusBadGateway},
		{"corrupted log", storage.ErrCorrupted, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIHandlers(&stubService{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/messages/ask",
				strings.NewReader(`{"prompt":"hi","token":"x"}`))
			rec := httptest.NewRecorder()
			h.Ask(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRemove(t *testing.T) {
	svc := &stubService{}
	h := NewAPIHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/remove", strings.NewReader(`{"token":"tok-123"}`))
	rec := httptest.NewRecorder()
	h.Remove(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", svc.gotToken)
}

func TestTranscribeUpload(t *testing.T) {
	svc := &stubService{transcript: "hello world"}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "clip.wav", []byte("audio-bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/audio/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Transcribe(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", decodeBody(t, rec)["transcript"])
	assert.Equal(t, []byte("audio-bytes"), svc.gotAudio)
}

func TestTranscribeRejectsUnsupportedFormat(t *testing.T) {
	svc := &stubService{}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "clip.ogg", []byte("audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/audio/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Transcribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.gotAudio, "rejected upload must not reach the service")
}

func TestTranscribeMissingFile(t *testing.T) {
	h := NewAPIHandlers(&stubService{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("token", "tok-123"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/audio/transcribe", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Transcribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioEnroll(t *testing.T) {
	svc := &stubService{}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "voice.mp3", []byte("voice-sample"), map[string]string{"token": "tok-123"})
	req := httptest.NewRequest(http.MethodPost, "/audio/enroll", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.AudioEnroll(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", svc.gotToken)
	assert.Equal(t, []byte("voice-sample"), svc.gotAudio)
}

func TestAudioEnrollInvalidToken(t *testing.T) {
	svc := &stubService{err: storage.ErrInvalidToken}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "voice.wav", []byte("voice"), map[string]string{"token": "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/audio/enroll", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.AudioEnroll(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTranscribeIdentify(t *testing.T) {
	svc := &stubService{result: &types.IdentifyResult{
		Transcript: "hello",
		SpeakerSegments: []types.SpeakerSegment{
			{SpeakerID: "tok-1", Start: 0, End: 1.5, Confidence: 0.93},
		},
	}}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "meeting.wav", []byte("audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/audio/transcribe_identify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.TranscribeIdentify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result types.IdentifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "hello", result.Transcript)
	require.Len(t, result.SpeakerSegments, 1)
	assert.Equal(t, "tok-1", result.SpeakerSegments[0].SpeakerID)
}

func TestTranscribeIdentifyPipelineDown(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("%w: sidecar unreachable", speech.ErrPipeline)}
	h := NewAPIHandlers(svc)

	body, contentType := multipartBody(t, "meeting.wav", []byte("audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/audio/transcribe_identify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.TranscribeIdentify(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1.0, 1)
	handler := RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Burst exhausted; the next immediate request is rejected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestWebSocketHubBroadcastsSessionEvents(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	client := &MockClient{SendChan: make(chan []byte, 4)}
	hub.Register(client)

	hub.Broadcast(session.Event{Type: session.EventUserEnrolled, Username: "alice"})

	msg := <-client.SendChan
	var decoded session.Event
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, session.EventUserEnrolled, decoded.Type)
	assert.Equal(t, "alice", decoded.Username)
}
