// Package audio plays synthesized speech through whichever system player is
// actually installed, trying a prioritized list of candidates.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/spokehq/speakd/internal/config"
	"github.com/spokehq/speakd/internal/engine"
)

// ErrExhausted reports that every configured backend was tried and none
// played the file.
var ErrExhausted = errors.New("all audio backends exhausted")

// Backend is one player command. The temp WAV path is appended as the final
// argument on invocation.
type Backend struct {
	Name string
	args []string
}

// Player iterates the backend list in order and short-circuits on the first
// zero exit. A backend binary being absent, timing out, or exiting non-zero
// just moves the chain along; new backends are added to the config list, not
// by branching here.
type Player struct {
	backends []Backend
	timeout  time.Duration
	tempDir  string
	log      *slog.Logger
}

func NewPlayer(cfg config.AudioConfig, log *slog.Logger) (*Player, error) {
	backends, err := parseBackends(cfg.Players)
	if err != nil {
		return nil, err
	}
	return &Player{
		backends: backends,
		timeout:  time.Duration(cfg.PlayerTimeoutMS) * time.Millisecond,
		tempDir:  cfg.TempDir,
		log:      log.With(slog.String("component", "audio")),
	}, nil
}

func parseBackends(commands []string) ([]Backend, error) {
	if len(commands) == 0 {
		return nil, errors.New("no audio players configured")
	}
	parser := shellwords.NewParser()
	backends := make([]Backend, 0, len(commands))
	for _, command := range commands {
		args, err := parser.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("parse player command %q: %w", command, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("player command %q is empty", command)
		}
		backends = append(backends, Backend{Name: args[0], args: args})
	}
	return backends, nil
}

// Play materializes the utterance to a temporary WAV file and walks the
// fallback chain. It returns the name of the backend that played the file.
// The temp file is removed on every path.
func (p *Player) Play(ctx context.Context, res engine.Result) (string, error) {
	file, err := os.CreateTemp(p.tempDir, "speakd_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	if err := writePCMToWav(file, res); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close wav: %w", err)
	}

	for _, backend := range p.backends {
		name, err := p.invoke(ctx, backend, path)
		if err == nil {
			p.log.Info("playback complete", slog.String("backend", name))
			return name, nil
		}
		switch {
		case errors.Is(err, exec.ErrNotFound):
			p.log.Debug("backend not installed", slog.String("backend", backend.Name))
		case errors.Is(err, context.DeadlineExceeded):
			p.log.Warn("backend timed out", slog.String("backend", backend.Name))
		case errors.Is(ctx.Err(), context.Canceled):
			return "", ctx.Err()
		default:
			p.log.Warn("backend failed",
				slog.String("backend", backend.Name),
				slog.String("error", err.Error()))
		}
	}
	return "", ErrExhausted
}

func (p *Player) invoke(parent context.Context, backend Backend, path string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	args := append(append([]string(nil), backend.args[1:]...), path)
	command := exec.CommandContext(ctx, backend.args[0], args...)
	if err := command.Run(); err != nil {
		// CommandContext kills the child on deadline, so a timed-out player
		// never leaks into the next fallback attempt.
		if ctx.Err() == context.DeadlineExceeded {
			return "", context.DeadlineExceeded
		}
		return "", err
	}
	return backend.Name, nil
}

func writePCMToWav(file *os.File, res engine.Result) error {
	if len(res.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	channels := res.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(res.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(res.PCM[i*2:])))
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: res.SampleRate},
		Data:   samples,
	}

	enc := wav.NewEncoder(file, res.SampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
