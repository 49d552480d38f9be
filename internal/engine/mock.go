package engine

import (
	"context"
	"fmt"
	"sort"
)

type mockEngine struct {
	voices     []string
	sampleRate int
	channels   int
}

// NewMock returns an engine that produces short silent utterances. Useful for
// running the daemon on machines without the synthesis worker installed.
func NewMock(voices []string, sampleRate, channels int) Engine {
	if len(voices) == 0 {
		voices = []string{"af_bella", "af_sarah", "am_adam"}
	}
	sorted := append([]string(nil), voices...)
	sort.Strings(sorted)
	return &mockEngine{voices: sorted, sampleRate: sampleRate, channels: channels}
}

func (m *mockEngine) Voices() []string {
	return append([]string(nil), m.voices...)
}

func (m *mockEngine) Synthesize(ctx context.Context, text, voice string, speed float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	found := false
	for _, v := range m.voices {
		if v == voice {
			found = true
			break
		}
	}
	if !found {
		return Result{}, fmt.Errorf("unknown voice %q", voice)
	}
	// 100ms of silence, scaled by text length so playback is observable.
	frames := m.sampleRate / 10 * (1 + len(text)/80)
	return Result{
		PCM:        make([]byte, frames*2*m.channels),
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}, nil
}
