// Package engine adapts the speech synthesis model behind a narrow interface.
// The model itself (kokoro-onnx in the reference deployment) runs out of
// process; this package only knows how to ask it for audio.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spokehq/speakd/internal/config"
)

// Result is one synthesized utterance: 16-bit little-endian PCM plus its
// sample rate. It lives only for the duration of the request that produced it.
type Result struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Engine is the contract for producing audio from text.
type Engine interface {
	// Voices returns the immutable voice catalog, fetched once at load time.
	Voices() []string
	Synthesize(ctx context.Context, text, voice string, speed float64) (Result, error)
}

// Load constructs the configured engine. For the exec engine both asset files
// must exist and the voice-listing handshake must succeed; any failure here is
// unrecoverable for the caller.
func Load(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(cfg.MockVoices, cfg.SampleRate, cfg.Channels), nil
	case "exec":
		for _, path := range []string{cfg.ModelPath, cfg.VoiceBankPath} {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("engine asset missing: %w", err)
			}
		}
		eng, err := newExecEngine(cfg)
		if err != nil {
			return nil, err
		}
		if err := eng.loadVoices(ctx); err != nil {
			return nil, fmt.Errorf("list voices: %w", err)
		}
		log.Info("synthesis engine loaded",
			slog.String("model", cfg.ModelPath),
			slog.Int("voices", len(eng.Voices())))
		return eng, nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
