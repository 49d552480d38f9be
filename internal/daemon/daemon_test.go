package daemon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spokehq/speakd/internal/engine"
	"github.com/spokehq/speakd/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeEngine struct {
	voices    []string
	err       error
	calls     int
	lastText  string
	lastVoice string
	lastSpeed float64
}

func (f *fakeEngine) Voices() []string { return f.voices }

func (f *fakeEngine) Synthesize(_ context.Context, text, voice string, speed float64) (engine.Result, error) {
	f.calls++
	f.lastText = text
	f.lastVoice = voice
	f.lastSpeed = speed
	if f.err != nil {
		return engine.Result{}, f.err
	}
	return engine.Result{PCM: []byte{0, 0, 0, 0}, SampleRate: 22050, Channels: 1}, nil
}

type fakePlayer struct {
	err     error
	backend string
	calls   int
}

func (f *fakePlayer) Play(_ context.Context, _ engine.Result) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.backend == "" {
		return "paplay", nil
	}
	return f.backend, nil
}

type fakeJournal struct {
	events []eventstore.Event
}

func (f *fakeJournal) Append(_ context.Context, evt eventstore.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func newTestDaemon(t *testing.T, eng *fakeEngine, player *fakePlayer) (*Daemon, *fakeJournal) {
	t.Helper()
	if eng == nil {
		eng = &fakeEngine{voices: []string{"af_bella", "af_sarah"}}
	}
	if player == nil {
		player = &fakePlayer{}
	}
	journal := &fakeJournal{}
	d, err := New(Options{DefaultVoice: "af_bella", DefaultSpeed: 1.0}, eng, player, journal, newLogger())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d, journal
}

func TestVoiceChangeThenSpeak(t *testing.T) {
	eng := &fakeEngine{voices: []string{"af_bella", "af_sarah"}}
	d, _ := newTestDaemon(t, eng, nil)

	ctx := context.Background()
	for _, v := range eng.voices {
		ack, quit := d.Handle(ctx, "VOICE:"+v)
		if ack != "OK" || quit {
			t.Fatalf("VOICE:%s = %q quit=%v, want OK", v, ack, quit)
		}
		ack, _ = d.Handle(ctx, "SPEAK:hello")
		if ack != "OK" {
			t.Fatalf("SPEAK after VOICE:%s = %q, want OK", v, ack)
		}
		if eng.lastVoice != v {
			t.Fatalf("synthesis used voice %q, want %q", eng.lastVoice, v)
		}
	}
}

func TestUnknownVoiceLeavesStateUnchanged(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)

	ack, _ := d.Handle(context.Background(), "VOICE:not-a-real-voice")
	if ack != "ERROR" {
		t.Fatalf("expected ERROR, got %q", ack)
	}
	if d.Session().Voice != "af_bella" {
		t.Fatalf("voice changed to %q on failed command", d.Session().Voice)
	}
}

func TestVoiceChangeIsIdempotent(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)

	for i := 0; i < 2; i++ {
		ack, _ := d.Handle(context.Background(), "VOICE:af_sarah")
		if ack != "OK" {
			t.Fatalf("attempt %d: expected OK, got %q", i+1, ack)
		}
		if d.Session().Voice != "af_sarah" {
			t.Fatalf("attempt %d: voice = %q", i+1, d.Session().Voice)
		}
	}
}

func TestSpeedChange(t *testing.T) {
	eng := &fakeEngine{voices: []string{"af_bella"}}
	d, _ := newTestDaemon(t, eng, nil)
	ctx := context.Background()

	ack, _ := d.Handle(ctx, "SPEED:1.5")
	if ack != "OK" {
		t.Fatalf("SPEED:1.5 = %q, want OK", ack)
	}
	if _, _ = d.Handle(ctx, "SPEAK:hi"); eng.lastSpeed != 1.5 {
		t.Fatalf("synthesis used speed %v, want 1.5", eng.lastSpeed)
	}

	for _, bad := range []string{"abc", "", "0", "-1", "NaN", "+Inf"} {
		ack, _ := d.Handle(ctx, "SPEED:"+bad)
		if ack != "ERROR" {
			t.Fatalf("SPEED:%s = %q, want ERROR", bad, ack)
		}
		if d.Session().Rate != 1.5 {
			t.Fatalf("rate changed to %v on invalid input %q", d.Session().Rate, bad)
		}
	}
}

func TestSpeakFailuresAck(t *testing.T) {
	eng := &fakeEngine{voices: []string{"af_bella"}, err: errors.New("model blew up")}
	d, _ := newTestDaemon(t, eng, nil)
	if ack, _ := d.Handle(context.Background(), "SPEAK:hi"); ack != "ERROR" {
		t.Fatalf("synthesis failure acked %q, want ERROR", ack)
	}

	player := &fakePlayer{err: errors.New("no audio system")}
	d, _ = newTestDaemon(t, nil, player)
	if ack, _ := d.Handle(context.Background(), "SPEAK:hi"); ack != "ERROR" {
		t.Fatalf("playback failure acked %q, want ERROR", ack)
	}
}

func TestUnprefixedLineIsSpokenVerbatim(t *testing.T) {
	eng := &fakeEngine{voices: []string{"af_bella"}}
	d, _ := newTestDaemon(t, eng, nil)

	ack, _ := d.Handle(context.Background(), "just read this sentence")
	if ack != "OK" {
		t.Fatalf("expected OK, got %q", ack)
	}
	if eng.lastText != "just read this sentence" {
		t.Fatalf("spoken text = %q", eng.lastText)
	}
}

func TestDefaultVoiceFallsBackToCatalog(t *testing.T) {
	eng := &fakeEngine{voices: []string{"am_adam"}}
	d, err := New(Options{DefaultVoice: "af_bella"}, eng, &fakePlayer{}, nil, newLogger())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if d.Session().Voice != "am_adam" {
		t.Fatalf("expected fallback to first catalog voice, got %q", d.Session().Voice)
	}
	if d.Session().Rate != 1.0 {
		t.Fatalf("expected default rate 1.0, got %v", d.Session().Rate)
	}
}

func TestRunEndToEnd(t *testing.T) {
	eng := &fakeEngine{voices: []string{"af_bella", "af_sarah"}}
	player := &fakePlayer{backend: "pw-play"}
	d, journal := newTestDaemon(t, eng, player)

	in := strings.NewReader("VOICE:af_sarah\nSPEED:1.0\n\nSPEAK:Hello world\nQUIT\nSPEAK:never read\n")
	var out bytes.Buffer

	if err := d.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := out.String(); got != "OK\nOK\nOK\n" {
		t.Fatalf("ack stream = %q, want three OKs and none for QUIT", got)
	}
	if eng.calls != 1 || eng.lastVoice != "af_sarah" || eng.lastSpeed != 1.0 || eng.lastText != "Hello world" {
		t.Fatalf("unexpected synthesis call: %+v", eng)
	}
	if player.calls != 1 {
		t.Fatalf("expected one playback, got %d", player.calls)
	}

	var kinds []string
	for _, evt := range journal.events {
		kinds = append(kinds, evt.Kind)
	}
	if len(journal.events) < 5 || journal.events[0].Kind != eventstore.KindStartup ||
		journal.events[len(journal.events)-1].Kind != eventstore.KindShutdown {
		t.Fatalf("unexpected journal sequence: %v", kinds)
	}
}

func TestRunStopsCleanlyOnEOF(t *testing.T) {
	d, journal := newTestDaemon(t, nil, nil)

	var out bytes.Buffer
	if err := d.Run(context.Background(), strings.NewReader("SPEAK:hi\n"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "OK\n" {
		t.Fatalf("ack stream = %q", out.String())
	}
	last := journal.events[len(journal.events)-1]
	if last.Kind != eventstore.KindShutdown || last.Detail != "end of stream" {
		t.Fatalf("expected end-of-stream shutdown event, got %+v", last)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	if err := d.Run(ctx, pr, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestQuitLineAlwaysTerminates(t *testing.T) {
	// Reserved-word ambiguity: a literal QUIT line is a command, never text.
	eng := &fakeEngine{voices: []string{"af_bella"}}
	d, _ := newTestDaemon(t, eng, nil)

	var out bytes.Buffer
	if err := d.Run(context.Background(), strings.NewReader("QUIT\n"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("QUIT produced output %q", out.String())
	}
	if eng.calls != 0 {
		t.Fatalf("QUIT was synthesized")
	}
}
