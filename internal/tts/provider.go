package tts

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Provider is the uniform capability every synthesis backend exposes,
// whether it is a hosted API or a local engine. The fallback chain treats
// all implementations identically.
type Provider interface {
	Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error)
	Name() string
}

// ErrRateLimited tags provider failures caused by upstream throttling so the
// monitor can tell them apart from transport errors. Either way the chain
// advances to the next provider.
var ErrRateLimited = errors.New("provider rate limited")

// FailureKind classifies a provider error for logging and metrics.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "rate_limit"
		}
		return "transport"
	}
}
