// Package http implements the HTTP transport for audipro.
//
// This transport exposes the chat REST API used by the terminal client and
// browser front ends: POST /chat for typed messages and POST /chat/audio for
// multipart recordings. Cross-origin requests are allowed for the configured
// origins.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
	"github.com/nadzzz/audipro/internal/transport"
)

// noAudioText is returned when /chat/audio carries no "audio" field.
const noAudioText = "No audio file provided."

// Transport implements transport.Transport over HTTP.
type Transport struct {
	cfg     config.HTTPConfig
	metrics *observe.Metrics

	mu     sync.Mutex
	server *http.Server
}

// New creates a new HTTP transport. metrics may be nil.
func New(cfg config.HTTPConfig, metrics *observe.Metrics) *Transport {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &Transport{cfg: cfg, metrics: metrics}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the routed, CORS-wrapped handler for the chat API.
func (t *Transport) Handler(handler transport.Handler) http.Handler {
	r := mux.NewRouter()
	if t.metrics != nil {
		r.Use(observe.Middleware(t.metrics))
	}

	r.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		t.handleChat(w, r, handler)
	}).Methods(http.MethodPost)

	r.HandleFunc("/chat/audio", func(w http.ResponseWriter, r *http.Request) {
		t.handleChatAudio(w, r, handler)
	}).Methods(http.MethodPost)

	// Swagger UI serves the generated OpenAPI docs.
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	)).Methods(http.MethodGet)

	origins := t.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.Port),
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	slog.Info("http transport listening", "port", t.cfg.Port, "allowed_origins", t.cfg.AllowedOrigins)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleChat processes a POST /chat request.
//
// @Summary     Send a typed message
// @Description Answers one typed message. Every request is independent; no
// @Description conversation history is kept.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      message.ChatRequest   true  "The user's message"
// @Success     200      {object}  message.ChatResponse  "The assistant's reply"
// @Failure     400      {object}  message.ChatResponse  "Empty message or invalid JSON"
// @Failure     502      {object}  message.ChatResponse  "The reply backend failed"
// @Router      /chat [post]
func (t *Transport) handleChat(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req message.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.record(r.Context(), string(message.ModeText), observe.StatusBadRequest)
		writeResponse(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	t.dispatch(w, r, handler, &message.Message{Text: req.Message})
}

// handleChatAudio processes a POST /chat/audio request.
//
// @Summary     Send a recording
// @Description Transcribes the uploaded recording and answers it like a typed
// @Description message. Backends without transcription answer 501.
// @Tags        chat
// @Accept      multipart/form-data
// @Produce     json
// @Param       audio  formData  file  true  "The recording (e.g. audio.wav)"
// @Success     200    {object}  message.ChatResponse  "The assistant's reply"
// @Failure     400    {object}  message.ChatResponse  "Missing audio field or empty transcript"
// @Failure     413    {object}  message.ChatResponse  "Upload too large"
// @Failure     501    {object}  message.ChatResponse  "Audio processing not implemented"
// @Failure     502    {object}  message.ChatResponse  "The transcription or reply backend failed"
// @Router      /chat/audio [post]
func (t *Transport) handleChatAudio(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	kind := string(message.ModeAudio)
	if r.ContentLength > t.cfg.MaxUploadBytes {
		t.record(r.Context(), kind, observe.StatusBadRequest)
		writeResponse(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, t.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(t.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			t.record(r.Context(), kind, observe.StatusBadRequest)
			writeResponse(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		t.record(r.Context(), kind, observe.StatusBadRequest)
		writeResponse(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	f, hdr, err := r.FormFile(message.AudioField)
	if err != nil {
		t.record(r.Context(), kind, observe.StatusBadRequest)
		writeResponse(w, http.StatusBadRequest, noAudioText)
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		t.record(r.Context(), kind, observe.StatusBadRequest)
		writeResponse(w, http.StatusBadRequest, "reading audio: "+err.Error())
		return
	}

	contentType := hdr.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = message.DefaultContentType
	}

	t.dispatch(w, r, handler, &message.Message{
		Audio:       audio,
		ContentType: contentType,
		FileName:    hdr.Filename,
	})
}

func (t *Transport) dispatch(w http.ResponseWriter, r *http.Request, handler transport.Handler, msg *message.Message) {
	resp, err := handler(r.Context(), msg)
	outcome := transport.Outcome(err)
	t.record(r.Context(), transport.Kind(msg), outcome)

	switch outcome {
	case observe.StatusOK:
		writeResponse(w, http.StatusOK, resp.Response)
	case observe.StatusBadRequest:
		writeResponse(w, http.StatusBadRequest, message.NoInputText)
	case observe.StatusUnsupported:
		writeResponse(w, http.StatusNotImplemented, message.AudioUnsupportedText)
	default:
		slog.Error("chat request failed", "message_id", msg.ID, "error", err)
		writeResponse(w, http.StatusBadGateway, err.Error())
	}
}

func (t *Transport) record(ctx context.Context, kind, status string) {
	if t.metrics != nil {
		t.metrics.RecordRequest(ctx, t.Name(), kind, status)
	}
}

func writeResponse(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(message.ChatResponse{Response: text})
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}
