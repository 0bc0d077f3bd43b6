// Package local implements the Interpreter interface using self-hosted models.
//
// It supports any Whisper-compatible transcription endpoint (e.g., whisper.cpp
// server, faster-whisper, whisper-asr-webservice) and either Ollama's
// /api/generate or any OpenAI-compatible chat endpoint (Ollama, vLLM,
// llama.cpp server).
//
// Self-hosted servers drop requests while a model loads, so transport errors
// and 5xx answers are retried with exponential backoff. 4xx answers are not.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/interpreter"
	"github.com/nadzzz/audipro/internal/message"
)

// Interpreter uses self-hosted models for transcription and replies.
type Interpreter struct {
	whisperEndpoint string
	whisperType     string // "openai" or "asr"
	llmEndpoint     string
	llmModel        string
	vadFilter       bool
	defaultLanguage string
	maxRetries      uint64
	retryInterval   time.Duration
	persona         *interpreter.Persona
	client          *http.Client
}

// New creates a new local interpreter from config.
func New(cfg config.LocalConfig, persona *interpreter.Persona) *Interpreter {
	wt := cfg.WhisperType
	if wt == "" {
		wt = "openai"
	}
	model := cfg.LLMModel
	if model == "" {
		model = "llama3"
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Interpreter{
		whisperEndpoint: cfg.WhisperEndpoint,
		whisperType:     wt,
		llmEndpoint:     cfg.LLMEndpoint,
		llmModel:        model,
		vadFilter:       cfg.VADFilter,
		defaultLanguage: cfg.Language,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   interval,
		persona:         persona,
		client:          &http.Client{},
	}
}

// Name returns the backend identifier.
func (i *Interpreter) Name() string { return "local" }

// Transcribe sends audio to the local Whisper-compatible endpoint.
// Supports two flavors:
//   - "openai": OpenAI-compatible API (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
func (i *Interpreter) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	switch i.whisperType {
	case "asr":
		return i.transcribeASR(ctx, audio, contentType)
	default:
		return i.transcribeOpenAI(ctx, audio, contentType)
	}
}

// transcribeASR handles the ahmetoner/whisper-asr-webservice format.
// API: POST /asr?task=transcribe&language=en&output=json&vad_filter=true
// Body: multipart/form-data with field "audio_file"
func (i *Interpreter) transcribeASR(ctx context.Context, audio []byte, contentType string) (string, error) {
	body, formType, err := audioForm("audio_file", audio, contentType, nil)
	if err != nil {
		return "", err
	}

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	if i.defaultLanguage != "" {
		q.Set("language", i.defaultLanguage)
	}
	if i.vadFilter {
		q.Set("vad_filter", "true")
	}
	reqURL := i.whisperEndpoint + "?" + q.Encode()

	slog.Debug("whisper-asr request", "url", reqURL)

	data, err := i.post(ctx, "asr transcription", reqURL, formType, body)
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decoding asr response: %w", err)
	}

	slog.Debug("asr transcription complete", "text_length", len(result.Text))
	return result.Text, nil
}

// transcribeOpenAI handles OpenAI-compatible whisper endpoints.
func (i *Interpreter) transcribeOpenAI(ctx context.Context, audio []byte, contentType string) (string, error) {
	fields := map[string]string{"response_format": "json"}
	if i.defaultLanguage != "" {
		fields["language"] = i.defaultLanguage
	}
	body, formType, err := audioForm("file", audio, contentType, fields)
	if err != nil {
		return "", err
	}

	data, err := i.post(ctx, "local transcription", i.whisperEndpoint, formType, body)
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("local transcription complete", "text_length", len(result.Text))
	return result.Text, nil
}

// Reply sends the persona and the user's text to the local LLM endpoint.
// An endpoint ending in /api/generate is spoken to in Ollama's format,
// anything else as OpenAI-compatible chat completions.
func (i *Interpreter) Reply(ctx context.Context, text string) (string, error) {
	systemPrompt := i.persona.Prompt()

	var reqBody map[string]any
	if strings.HasSuffix(i.llmEndpoint, "/api/generate") {
		reqBody = map[string]any{
			"model":  i.llmModel,
			"system": systemPrompt,
			"prompt": text,
			"stream": false,
		}
	} else {
		var messages []map[string]string
		if systemPrompt != "" {
			messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
		}
		messages = append(messages, map[string]string{"role": "user", "content": text})
		reqBody = map[string]any{
			"model":    i.llmModel,
			"messages": messages,
			"stream":   false,
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	data, err := i.post(ctx, "local LLM", i.llmEndpoint, "application/json", bodyBytes)
	if err != nil {
		return "", err
	}

	content := extractContent(data)
	if content == "" {
		return "", errors.New("empty response from local LLM")
	}

	slog.Debug("local reply complete", "reply_length", len(content))
	return content, nil
}

// Close is a no-op for the local interpreter.
func (i *Interpreter) Close() error { return nil }

// post sends body to endpoint, retrying transport errors and 5xx answers.
func (i *Interpreter) post(ctx context.Context, what, endpoint, contentType string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := i.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s request: %w", what, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			err := fmt.Errorf("%s failed (status %d): %s", what, resp.StatusCode, respBody)
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}

		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s response: %w", what, err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, i.maxRetries), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		slog.Warn("upstream call failed, retrying", "call", what, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// audioForm builds a multipart body with the recording under field plus the
// given text fields.
func audioForm(field string, audio []byte, contentType string, fields map[string]string) ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, "audio"+message.ExtFromContentType(contentType))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func extractContent(data []byte) string {
	// OpenAI-compatible format: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content
	}

	// Ollama format: {"response": "..."}
	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil && ollamaResp.Response != "" {
		return ollamaResp.Response
	}

	return strings.TrimSpace(string(data))
}
