package protocol

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		arg  string
	}{
		{"SPEAK:Hello world", KindSpeak, "Hello world"},
		{"SPEAK:  padded  ", KindSpeak, "padded"},
		{"SPEAK:", KindSpeak, ""},
		{"VOICE:af_sarah", KindVoice, "af_sarah"},
		{"SPEED:1.5", KindSpeed, "1.5"},
		{"QUIT", KindQuit, ""},
		{"just a plain sentence", KindSpeak, "just a plain sentence"},
		// Reserved-word ambiguity: these are commands, never literal text.
		{"SPEED:abc", KindSpeed, "abc"},
		{"VOICE:", KindVoice, ""},
		// QUIT with trailing text is not the quit token, so it is spoken.
		{"QUIT please", KindSpeak, "QUIT please"},
		// Lowercase prefixes are not commands.
		{"speak:hello", KindSpeak, "speak:hello"},
	}
	for _, tc := range cases {
		cmd := Parse(tc.line)
		if cmd.Kind != tc.kind || cmd.Arg != tc.arg {
			t.Errorf("Parse(%q) = {%v %q}, want {%v %q}", tc.line, cmd.Kind, cmd.Arg, tc.kind, tc.arg)
		}
	}
}
