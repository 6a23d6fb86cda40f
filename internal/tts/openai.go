package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// OpenAIConfig holds configuration for the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: the SDK's api.openai.com
	Model   string // default: "tts-1"
}

// OpenAI synthesizes speech through the OpenAI audio/speech API.
type OpenAI struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error) {
	voice := openai.SpeechVoice(req.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: o.model,
		Input: req.Text,
		Voice: voice,
		Speed: req.Speed,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("openai speech: %w: %v", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai audio: %w", err)
	}

	return &speech.Artifact{
		Audio:       audio,
		ContentType: "audio/mpeg",
		Provider:    o.Name(),
	}, nil
}
