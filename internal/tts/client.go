// Package tts is the speech synthesizer used by the lecture pipeline. It talks
// to a standalone text-to-speech HTTP service.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeWAV      = "audio/wav"
	contentTypeMPEG     = "audio/mpeg"
)

const defaultTemperature = 0.75

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio, got %s"
	errFmtServiceErrorWithCode  = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "TTS service returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned for an empty synthesis request.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the service answers with no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrTextTooLong is returned when text exceeds core.MaxTextLength.
	ErrTextTooLong = errors.New("text exceeds the synthesizer limit")
	// ErrUnsupportedVoice is returned for a voice outside the catalogue.
	ErrUnsupportedVoice = errors.New("unsupported voice")
)

// HTTPClient is a core.SpeechSynthesizer backed by the TTS HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice"`
	Language    string  `json:"language"`
	Speed       float64 `json:"speed"`
	Temperature float64 `json:"temperature"`
}

// ErrorResponse is the structured error body returned by the TTS service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the TTS service at baseURL (e.g. "http://localhost:8000").
// The timeout applies to every request; apiKey is sent as a bearer token when set.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize implements core.SpeechSynthesizer. Failures are wrapped in *core.SynthesisError.
func (c *HTTPClient) Synthesize(ctx context.Context, text string, settings core.VoiceSettings) ([]byte, error) {
	audio, err := c.GenerateSpeech(ctx, SpeechRequest{
		Text:        text,
		Voice:       settings.Voice,
		Language:    settings.Language,
		Speed:       settings.Speed,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, &core.SynthesisError{Err: err}
	}

	return audio, nil
}

// GenerateSpeech sends a generation request and returns the raw audio bytes.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	err := validateRequest(&req)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV+", "+contentTypeMPEG)

	if c.apiKey != "" {
		httpReq.Header.Set(headerAuthorization, "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, "audio/") {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck reports an error when the TTS service is unreachable or unhealthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func validateRequest(req *SpeechRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrTextEmpty
	}

	if len([]rune(req.Text)) > core.MaxTextLength {
		return fmt.Errorf("%w: %d characters", ErrTextTooLong, len([]rune(req.Text)))
	}

	if req.Voice == "" {
		req.Voice = core.DefaultVoice
	}

	if !IsKnownVoice(req.Voice) {
		return fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, req.Voice)
	}

	if req.Language == "" {
		req.Language = core.DefaultLanguage
	}

	if req.Speed == 0 {
		req.Speed = core.DefaultSpeed
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
