package bus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// Handler processes one inbound command line. The daemon satisfies it.
type Handler interface {
	Handle(ctx context.Context, line string) (ack string, quit bool)
}

// Source feeds bus messages through the same single-threaded handler path the
// pipe loop uses. NATS delivers messages on one subscription sequentially, so
// the one-request-in-flight invariant holds in bus mode too.
type Source struct {
	client  *Client
	subject string
	handler Handler
	onQuit  func()
	log     *slog.Logger
	sub     *nats.Subscription
}

func NewSource(client *Client, subject string, handler Handler, onQuit func(), log *slog.Logger) *Source {
	return &Source{
		client:  client,
		subject: subject,
		handler: handler,
		onQuit:  onQuit,
		log:     log.With(slog.String("component", "bus-source")),
	}
}

// Start subscribes to the command subject. Each message body is one command
// line; when the message carries a reply subject the ack token is sent back.
func (s *Source) Start(ctx context.Context) error {
	sub, err := s.client.Conn().Subscribe(s.subject, func(msg *nats.Msg) {
		line := strings.TrimSpace(string(msg.Data))
		if line == "" {
			return
		}
		ack, quit := s.handler.Handle(ctx, line)
		if quit {
			s.log.Info("quit command received on bus")
			s.onQuit()
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond([]byte(ack)); err != nil {
				s.log.Warn("failed to send ack", slog.String("error", err.Error()))
			}
		}
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info("listening for commands", slog.String("subject", s.subject))
	return nil
}

func (s *Source) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}
