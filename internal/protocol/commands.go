// Package protocol defines the line-oriented command grammar spoken over the
// inbound channel and the single-token acknowledgments written back.
//
// Command tokens are reserved words: a line that begins with SPEAK:, VOICE:
// or SPEED:, or that is exactly QUIT, is always consumed as a command, even
// if the producer intended it as literal text. This ambiguity is part of the
// wire contract; producers relying on the verbatim fallback must avoid the
// reserved prefixes.
package protocol

import "strings"

// Acknowledgment tokens. Exactly one is written per handled line.
const (
	AckOK    = "OK"
	AckError = "ERROR"
)

// Command prefixes, matched case-sensitively.
const (
	PrefixSpeak = "SPEAK:"
	PrefixVoice = "VOICE:"
	PrefixSpeed = "SPEED:"
	TokenQuit   = "QUIT"
)

// Kind classifies an inbound line.
type Kind int

const (
	// KindSpeak synthesizes and plays the argument text. Lines with no
	// recognized prefix fall back to this kind with the whole line as
	// argument.
	KindSpeak Kind = iota
	// KindVoice changes the active voice.
	KindVoice
	// KindSpeed changes the speech rate.
	KindSpeed
	// KindQuit terminates the command loop.
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindSpeak:
		return "speak"
	case KindVoice:
		return "voice"
	case KindSpeed:
		return "speed"
	case KindQuit:
		return "quit"
	}
	return "unknown"
}

// Command is one classified inbound line.
type Command struct {
	Kind Kind
	Arg  string
}

// Parse classifies a single non-empty line. The caller trims the trailing
// newline; Parse trims surrounding whitespace from the argument.
func Parse(line string) Command {
	switch {
	case strings.HasPrefix(line, PrefixSpeak):
		return Command{Kind: KindSpeak, Arg: strings.TrimSpace(line[len(PrefixSpeak):])}
	case strings.HasPrefix(line, PrefixVoice):
		return Command{Kind: KindVoice, Arg: strings.TrimSpace(line[len(PrefixVoice):])}
	case strings.HasPrefix(line, PrefixSpeed):
		return Command{Kind: KindSpeed, Arg: strings.TrimSpace(line[len(PrefixSpeed):])}
	case line == TokenQuit:
		return Command{Kind: KindQuit}
	default:
		return Command{Kind: KindSpeak, Arg: line}
	}
}
