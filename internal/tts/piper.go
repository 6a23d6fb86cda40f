package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// PiperConfig holds configuration for the local Piper backend.
type PiperConfig struct {
	BinPath   string // default: "piper"
	ModelPath string // required: path to the .onnx voice model
}

// Piper synthesizes speech with the Piper binary via subprocess. It is the
// last link of the chain: always available, no network, voice and speed are
// baked into the model file.
type Piper struct {
	cfg PiperConfig
}

func NewPiper(cfg PiperConfig) *Piper {
	if cfg.BinPath == "" {
		cfg.BinPath = "piper"
	}
	return &Piper{cfg: cfg}
}

func (p *Piper) Name() string { return "piper" }

// Synthesize pipes text into Piper via stdin and returns the WAV from stdout.
func (p *Piper) Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error) {
	if p.cfg.ModelPath == "" {
		return nil, fmt.Errorf("piper model path is required (set TTS_LOCAL_PIPER_MODEL)")
	}

	cmd := exec.CommandContext(ctx, p.cfg.BinPath, "--model", p.cfg.ModelPath, "--output_file", "-")
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper failed: %w (stderr: %s)", err, stderr.String())
	}

	return &speech.Artifact{
		Audio:       stdout.Bytes(),
		ContentType: "audio/wav",
		Provider:    p.Name(),
	}, nil
}
