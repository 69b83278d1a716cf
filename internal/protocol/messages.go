// Package protocol defines the websocket message envelope shared by the
// server and its clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientChat         MessageType = "client_chat"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantAudio     MessageType = "assistant_audio_chunk"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSpeechState        MessageType = "speech_state"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions accepted in a client_control message.
const (
	ActionSpeakMessage = "speak_message"
	ActionStopAudio    = "stop_audio"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientChat asks for one assistant turn. Speak toggles live synthesis of
// the reply as it streams.
type ClientChat struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Speak     bool        `json:"speak"`
}

// ClientControl carries out-of-band actions: speak an already-received
// message, or stop audio output.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	MessageID string      `json:"message_id,omitempty"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	MessageID   string      `json:"message_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type AssistantTurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Reason    string      `json:"reason"`
}

// SpeechState reports playback transitions so clients can render a speaking
// indicator without tracking audio themselves.
type SpeechState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Speaking  bool        `json:"speaking"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound client frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientChat:
		var msg ClientChat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_chat")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == ActionSpeakMessage && msg.MessageID == "" {
			return nil, errors.New("speak_message requires message_id")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
