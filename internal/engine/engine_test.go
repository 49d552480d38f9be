package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spokehq/speakd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeWorker is a stand-in synthesis worker: it answers --list-voices with a
// fixed catalog and any other invocation with a tiny PCM payload.
const fakeWorker = `#!/bin/sh
case "$*" in
*--list-voices*)
  echo '{"voices":["af_sarah","af_bella"]}'
  ;;
*)
  cat >/dev/null
  echo '{"pcm_base64":"AAAAAA==","sample_rate":22050}'
  ;;
esac
`

func writeFakeAssets(t *testing.T) config.EngineConfig {
	t.Helper()
	dir := t.TempDir()

	worker := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(worker, []byte(fakeWorker), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	model := filepath.Join(dir, "model.onnx")
	bank := filepath.Join(dir, "voices.bin")
	for _, p := range []string{model, bank} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
	}

	cfg := config.Default().Engine
	cfg.Mode = "exec"
	cfg.Command = worker
	cfg.ModelPath = model
	cfg.VoiceBankPath = bank
	return cfg
}

func TestLoadExecEngine(t *testing.T) {
	cfg := writeFakeAssets(t)
	eng, err := Load(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("load engine: %v", err)
	}

	voices := eng.Voices()
	if len(voices) != 2 || voices[0] != "af_bella" || voices[1] != "af_sarah" {
		t.Fatalf("unexpected voice catalog: %v", voices)
	}

	res, err := eng.Synthesize(context.Background(), "hello", "af_bella", 1.0)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.PCM) != 4 {
		t.Fatalf("expected 4 pcm bytes, got %d", len(res.PCM))
	}
	if res.SampleRate != 22050 {
		t.Fatalf("expected worker sample rate, got %d", res.SampleRate)
	}
}

func TestLoadFailsOnMissingAssets(t *testing.T) {
	cfg := writeFakeAssets(t)
	cfg.ModelPath = filepath.Join(t.TempDir(), "nope.onnx")
	if _, err := Load(context.Background(), cfg, newLogger()); err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestMockEngine(t *testing.T) {
	eng := NewMock([]string{"af_bella"}, 24000, 1)

	res, err := eng.Synthesize(context.Background(), "hi", "af_bella", 1.0)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.PCM) == 0 || res.SampleRate != 24000 {
		t.Fatalf("unexpected result: %d bytes at %d Hz", len(res.PCM), res.SampleRate)
	}

	if _, err := eng.Synthesize(context.Background(), "hi", "not-a-voice", 1.0); err == nil {
		t.Fatal("expected error for unknown voice")
	}
}
