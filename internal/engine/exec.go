package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/spokehq/speakd/internal/config"
)

// execEngine drives a synthesis worker subprocess. The worker is invoked per
// request with the model asset paths as flags; the request travels as JSON on
// stdin and the response comes back as a single JSON object on stdout.
type execEngine struct {
	cmd           []string
	modelPath     string
	voiceBankPath string
	sampleRate    int
	channels      int
	voices        []string
	mu            sync.Mutex
}

type synthRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type synthResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

func newExecEngine(cfg config.EngineConfig) (*execEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{
		cmd:           args,
		modelPath:     cfg.ModelPath,
		voiceBankPath: cfg.VoiceBankPath,
		sampleRate:    cfg.SampleRate,
		channels:      cfg.Channels,
	}, nil
}

func (e *execEngine) baseArgs() (string, []string) {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--model", e.modelPath, "--voices", e.voiceBankPath)
	return e.cmd[0], args
}

func (e *execEngine) loadVoices(ctx context.Context) error {
	base, args := e.baseArgs()
	args = append(args, "--list-voices")

	command := exec.CommandContext(ctx, base, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("engine worker failed: %w: %s", err, stderr.String())
	}

	var resp voicesResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode voice list: %w", err)
	}
	if len(resp.Voices) == 0 {
		return fmt.Errorf("engine reported no voices")
	}
	sort.Strings(resp.Voices)
	e.voices = resp.Voices
	return nil
}

func (e *execEngine) Voices() []string {
	return append([]string(nil), e.voices...)
}

func (e *execEngine) Synthesize(ctx context.Context, text, voice string, speed float64) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(synthRequest{
		Text:       text,
		Voice:      voice,
		Speed:      speed,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return Result{}, err
	}

	base, args := e.baseArgs()
	command := exec.CommandContext(ctx, base, args...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("engine worker failed: %w: %s", err, stderr.String())
	}

	var resp synthResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode engine pcm: %w", err)
	}
	if len(pcm) == 0 {
		return Result{}, fmt.Errorf("engine returned empty audio")
	}

	rate := resp.SampleRate
	if rate == 0 {
		rate = e.sampleRate
	}
	return Result{PCM: pcm, SampleRate: rate, Channels: e.channels}, nil
}
