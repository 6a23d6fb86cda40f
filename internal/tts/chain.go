package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ErrExhausted is returned when every provider in the chain failed once.
// The caller counts that as a single failed job attempt.
var ErrExhausted = errors.New("all synthesis providers exhausted")

// Observer receives the outcome of each individual provider call.
type Observer interface {
	ObserveProvider(provider string, took time.Duration, err error)
}

// Chain tries providers in configured order with a bounded per-provider
// timeout, stopping at the first success. Falling through the chain is
// intra-attempt: it never consumes a job retry by itself.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	observer  Observer
}

func NewChain(timeout time.Duration, observer Observer, providers ...Provider) *Chain {
	return &Chain{providers: providers, timeout: timeout, observer: observer}
}

// FromConfig builds the chain from the configured provider order. Unknown
// names are an error: a typo must not silently shorten the chain.
func FromConfig(cfg config.TTSConfig, observer Observer) (*Chain, error) {
	providers := make([]Provider, 0, len(cfg.Chain))
	for _, name := range cfg.Chain {
		switch name {
		case "openai":
			providers = append(providers, NewOpenAI(OpenAIConfig{
				APIKey:  cfg.OpenAIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Model:   cfg.OpenAIModel,
			}))
		case "elevenlabs":
			providers = append(providers, NewElevenLabs(ElevenLabsConfig{
				APIKey:  cfg.ElevenLabsKey,
				BaseURL: cfg.ElevenLabsBaseURL,
				Model:   cfg.ElevenLabsModel,
			}))
		case "piper":
			providers = append(providers, NewPiper(PiperConfig{
				BinPath:   cfg.PiperBinPath,
				ModelPath: cfg.PiperModel,
			}))
		default:
			return nil, fmt.Errorf("unknown tts provider %q", name)
		}
	}
	return NewChain(cfg.ProviderTimeout, observer, providers...), nil
}

// Providers lists the configured provider names in chain order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Synthesize runs one attempt across the whole chain.
func (c *Chain) Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error) {
	var lastErr error
	for _, p := range c.providers {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		artifact, err := p.Synthesize(pctx, req)
		took := time.Since(start)
		cancel()

		if c.observer != nil {
			c.observer.ObserveProvider(p.Name(), took, err)
		}

		if err == nil {
			artifact.Provider = p.Name()
			return artifact, nil
		}

		// The submitting context ended; stop instead of burning through
		// the rest of the chain on a dead request.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Warn("synthesis provider failed, falling back",
			"provider", p.Name(),
			"kind", FailureKind(err),
			"took", took,
			"error", err,
		)
		lastErr = err
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w: chain is empty", ErrExhausted)
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrExhausted, lastErr)
}
