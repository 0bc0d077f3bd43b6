// Package openai implements the Interpreter interface against any
// OpenAI-compatible API (OpenAI, Groq, vLLM, ...).
//
// Replies go through the Chat Completions API via the openai-go SDK.
// Transcription posts the recording to {base_url}/audio/transcriptions.
package openai

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
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/interpreter"
	"github.com/nadzzz/audipro/internal/message"
)

// Interpreter uses an OpenAI-compatible API for transcription and replies.
type Interpreter struct {
	apiKey             string
	baseURL            string
	transcriptionModel string
	completionModel    string
	persona            *interpreter.Persona
	client             oai.Client
	httpClient         *http.Client
}

// New creates a new OpenAI interpreter from config. The persona supplies the
// system prompt of every reply.
func New(cfg config.OpenAIConfig, persona *interpreter.Persona) (*Interpreter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	client := oai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL+"/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &Interpreter{
		apiKey:             cfg.APIKey,
		baseURL:            baseURL,
		transcriptionModel: cfg.TranscriptionModel,
		completionModel:    cfg.CompletionModel,
		persona:            persona,
		client:             client,
		httpClient:         httpClient,
	}, nil
}

// Name returns the backend identifier.
func (i *Interpreter) Name() string { return "openai" }

// Transcribe sends audio to the transcription endpoint.
func (i *Interpreter) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio"+message.ExtFromContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	_ = writer.WriteField("model", i.transcriptionModel)
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+i.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("transcription complete", "text_length", len(result.Text))
	return result.Text, nil
}

// Reply sends the persona and the user's text to the Chat Completions API.
func (i *Interpreter) Reply(ctx context.Context, text string) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if prompt := i.persona.Prompt(); prompt != "" {
		messages = append(messages, oai.SystemMessage(prompt))
	}
	messages = append(messages, oai.UserMessage(text))

	resp, err := i.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(i.completionModel),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from chat API")
	}

	content := resp.Choices[0].Message.Content
	slog.Debug("chat completion complete", "model", i.completionModel, "reply_length", len(content))
	return content, nil
}

// Close is a no-op for the OpenAI interpreter.
func (i *Interpreter) Close() error { return nil }
