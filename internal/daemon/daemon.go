// Package daemon implements the request loop: it reads line-oriented commands
// from the inbound channel, keeps the session state, drives synthesis and
// playback, and answers every handled line with a single OK or ERROR token.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spokehq/speakd/internal/engine"
	"github.com/spokehq/speakd/internal/eventstore"
	"github.com/spokehq/speakd/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Player plays one synthesized utterance and reports which backend won.
type Player interface {
	Play(ctx context.Context, res engine.Result) (string, error)
}

// Journal receives diagnostic events. *eventstore.Store satisfies it.
type Journal interface {
	Append(ctx context.Context, evt eventstore.Event) error
}

// Session is the mutable per-process state. It is owned by the single
// handling goroutine; there is no concurrent mutator and no lock.
type Session struct {
	Voice string
	Rate  float64
}

// Options configure the daemon's initial session and input bounds.
type Options struct {
	DefaultVoice string
	DefaultSpeed float64
	MaxLineBytes int
}

type Daemon struct {
	engine  engine.Engine
	player  Player
	journal Journal
	log     *slog.Logger

	voices  map[string]struct{}
	session Session
	maxLine int

	requests  metric.Int64Counter
	synthSecs metric.Float64Histogram
}

// New builds a daemon around a loaded engine. The voice catalog is fetched
// once here and never refreshed. If the configured default voice is not in
// the catalog the first catalog voice is used instead, with a warning.
func New(opts Options, eng engine.Engine, player Player, journal Journal, log *slog.Logger) (*Daemon, error) {
	catalog := eng.Voices()
	if len(catalog) == 0 {
		return nil, fmt.Errorf("engine reported no voices")
	}
	voices := make(map[string]struct{}, len(catalog))
	for _, v := range catalog {
		voices[v] = struct{}{}
	}

	voice := opts.DefaultVoice
	if _, ok := voices[voice]; !ok {
		voice = catalog[0]
		log.Warn("default voice not in catalog, falling back",
			slog.String("configured", opts.DefaultVoice),
			slog.String("voice", voice))
	}
	rate := opts.DefaultSpeed
	if rate <= 0 {
		rate = 1.0
	}
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 1 << 20
	}

	d := &Daemon{
		engine:  eng,
		player:  player,
		journal: journal,
		log:     log.With(slog.String("component", "daemon")),
		voices:  voices,
		session: Session{Voice: voice, Rate: rate},
		maxLine: maxLine,
	}
	if err := d.initMetrics(); err != nil {
		d.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return d, nil
}

func (d *Daemon) initMetrics() error {
	meter := otel.Meter("github.com/spokehq/speakd/daemon")
	requests, err := meter.Int64Counter("speakd.requests",
		metric.WithDescription("Handled inbound commands by class and outcome"))
	if err != nil {
		return err
	}
	synthSecs, err := meter.Float64Histogram("speakd.speak.duration",
		metric.WithDescription("End-to-end speak handling duration"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	d.requests = requests
	d.synthSecs = synthSecs
	return nil
}

// Session returns a copy of the current session state.
func (d *Daemon) Session() Session {
	return d.session
}

// Run processes the inbound channel until EOF, QUIT, or context cancellation.
// EOF and QUIT are the clean shutdown paths. Exactly one ack token is written
// and flushed per handled line; QUIT writes none.
func (d *Daemon) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	// Releases the reader goroutine once the loop ends.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := bufio.NewWriter(w)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), d.maxLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	d.journalEvent(ctx, eventstore.Event{
		Kind:   eventstore.KindStartup,
		Detail: fmt.Sprintf("ready voice=%s rate=%.2f voices=%d", d.session.Voice, d.session.Rate, len(d.voices)),
	})
	d.log.Info("command loop ready",
		slog.String("voice", d.session.Voice),
		slog.Float64("rate", d.session.Rate))

	for {
		select {
		case <-ctx.Done():
			d.journalEvent(context.Background(), eventstore.Event{Kind: eventstore.KindShutdown, Detail: "signal"})
			d.log.Info("shutdown signal received")
			return nil
		case line, ok := <-lines:
			if !ok {
				// Channel closed by the producer: the normal shutdown path.
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				d.journalEvent(ctx, eventstore.Event{Kind: eventstore.KindShutdown, Detail: "end of stream"})
				d.log.Info("inbound channel closed")
				if err != nil {
					if err := d.writeAck(out, protocol.AckError); err != nil {
						return err
					}
					return fmt.Errorf("read inbound channel: %w", err)
				}
				return nil
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			ack, quit := d.Handle(ctx, line)
			if quit {
				d.journalEvent(ctx, eventstore.Event{Kind: eventstore.KindShutdown, Detail: "quit command"})
				d.log.Info("quit command received")
				return nil
			}
			if err := d.writeAck(out, ack); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) writeAck(out *bufio.Writer, ack string) error {
	if _, err := fmt.Fprintln(out, ack); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush ack: %w", err)
	}
	return nil
}

// Handle classifies and executes one trimmed, non-empty line. It returns the
// ack token and whether the line was a quit command. No error escapes this
// boundary; every failure becomes an ERROR ack.
func (d *Daemon) Handle(ctx context.Context, line string) (ack string, quit bool) {
	cmd := protocol.Parse(line)
	detail := ""

	switch cmd.Kind {
	case protocol.KindQuit:
		return "", true
	case protocol.KindVoice:
		ack, detail = d.handleVoice(cmd.Arg)
	case protocol.KindSpeed:
		ack, detail = d.handleSpeed(cmd.Arg)
	case protocol.KindSpeak:
		ack, detail = d.handleSpeak(ctx, cmd.Arg)
	}

	d.countRequest(ctx, cmd.Kind.String(), ack)
	d.journalEvent(ctx, eventstore.Event{
		Kind:    eventstore.KindRequest,
		Command: cmd.Kind.String(),
		Outcome: ack,
		Detail:  detail,
	})
	return ack, false
}

func (d *Daemon) handleVoice(name string) (string, string) {
	if _, ok := d.voices[name]; !ok {
		d.log.Warn("voice not available, keeping current",
			slog.String("requested", name),
			slog.String("voice", d.session.Voice))
		return protocol.AckError, fmt.Sprintf("unknown voice %q", name)
	}
	d.session.Voice = name
	d.log.Info("voice changed", slog.String("voice", name))
	return protocol.AckOK, "voice=" + name
}

func (d *Daemon) handleSpeed(arg string) (string, string) {
	rate, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		d.log.Warn("invalid speed, keeping current",
			slog.String("requested", arg),
			slog.Float64("rate", d.session.Rate))
		return protocol.AckError, fmt.Sprintf("invalid speed %q", arg)
	}
	d.session.Rate = rate
	d.log.Info("speed changed", slog.Float64("rate", rate))
	return protocol.AckOK, fmt.Sprintf("rate=%g", rate)
}

func (d *Daemon) handleSpeak(ctx context.Context, text string) (string, string) {
	start := time.Now()

	preview := text
	if len(preview) > 50 {
		preview = preview[:50]
	}
	d.log.Info("generating speech",
		slog.String("voice", d.session.Voice),
		slog.String("text", preview))

	res, err := d.engine.Synthesize(ctx, text, d.session.Voice, d.session.Rate)
	if err != nil {
		d.log.Error("synthesis failed", slog.String("error", err.Error()))
		return protocol.AckError, "synthesis: " + err.Error()
	}

	backend, err := d.player.Play(ctx, res)
	if err != nil {
		d.log.Error("playback failed", slog.String("error", err.Error()))
		return protocol.AckError, "playback: " + err.Error()
	}

	if d.synthSecs != nil {
		d.synthSecs.Record(ctx, time.Since(start).Seconds())
	}
	d.log.Info("speech completed", slog.String("backend", backend))
	return protocol.AckOK, "backend=" + backend
}

func (d *Daemon) countRequest(ctx context.Context, command, outcome string) {
	if d.requests == nil {
		return
	}
	d.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func (d *Daemon) journalEvent(ctx context.Context, evt eventstore.Event) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, evt); err != nil {
		d.log.Warn("failed to journal event", slog.String("error", err.Error()))
	}
}
