package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ElevenLabsConfig holds configuration for the ElevenLabs backend.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string // default: "https://api.elevenlabs.io"
	Model   string // default: "eleven_multilingual_v2"
}

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech API.
// The request voice is used as the ElevenLabs voice ID.
type ElevenLabs struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_multilingual_v2"
	}
	return &ElevenLabs{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error) {
	body := map[string]any{
		"text":     req.Text,
		"model_id": e.cfg.Model,
	}
	if req.Style != "" {
		body["voice_settings"] = map[string]any{"style": req.Style}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.cfg.BaseURL, req.Voice)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("elevenlabs: %w (status %d)", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}

	return &speech.Artifact{
		Audio:       audio,
		ContentType: "audio/mpeg",
		Provider:    e.Name(),
	}, nil
}
