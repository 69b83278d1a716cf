package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"chat ok", `{"type":"client_chat","session_id":"s1","text":"hello","speak":true}`, false},
		{"chat missing text", `{"type":"client_chat","session_id":"s1"}`, true},
		{"control stop ok", `{"type":"client_control","session_id":"s1","action":"stop_audio"}`, false},
		{"control speak ok", `{"type":"client_control","session_id":"s1","action":"speak_message","message_id":"m1"}`, false},
		{"control speak missing message", `{"type":"client_control","session_id":"s1","action":"speak_message"}`, true},
		{"control missing action", `{"type":"client_control","session_id":"s1"}`, true},
		{"not json", `{"type":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseClientMessageRejectsServerTypes(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"assistant_audio_chunk"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestParsedTypesRoundTrip(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_chat","session_id":"s1","text":"hi","speak":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chat, ok := msg.(ClientChat)
	if !ok {
		t.Fatalf("expected ClientChat, got %T", msg)
	}
	if !chat.Speak || chat.Text != "hi" {
		t.Fatalf("unexpected payload %+v", chat)
	}
}
