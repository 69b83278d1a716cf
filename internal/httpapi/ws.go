package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lectorlabs/lector/internal/audio"
	"github.com/lectorlabs/lector/internal/chat"
	"github.com/lectorlabs/lector/internal/history"
	"github.com/lectorlabs/lector/internal/protocol"
	"github.com/lectorlabs/lector/internal/segment"
	"github.com/lectorlabs/lector/internal/speech"
)

// handleChatWS owns one conversation connection. Each connection gets its
// own utterance controller and playback queue; the queue's sink paces audio
// frames onto the socket at clip duration so the client can play them as
// they arrive.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "query parameter session_id must be a uuid")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newWSConn(s, sessionID)
	defer c.close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok && s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID.String(),
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok && s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientChat:
			c.startTurn(ctx, msg)
		case protocol.ClientControl:
			c.handleControl(ctx, msg)
		}
	}

	cancel()
	c.cancelTurn()
	<-writerDone
}

// wsConn is the per-connection state: the outbound queue, the speech
// pipeline, and the at-most-one in-flight turn.
type wsConn struct {
	server    *Server
	sessionID uuid.UUID
	outbound  chan any

	controller *speech.Controller

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

func newWSConn(s *Server, sessionID uuid.UUID) *wsConn {
	c := &wsConn{
		server:    s,
		sessionID: sessionID,
		outbound:  make(chan any, 256),
	}

	sink := newWSSink(sessionID, c.send)
	c.controller = speech.NewController(speech.ControllerConfig{
		Voice:          s.cfg.TTSVoice,
		Speed:          s.cfg.TTSSpeed,
		FastStartDelay: s.cfg.FastStartDelay,
		Segmenter: segment.Config{
			MinChunkChars:      s.cfg.MinChunkChars,
			MaxChunkChars:      s.cfg.MaxChunkChars,
			FirstChunkMinChars: s.cfg.FirstChunkMinChars,
		},
		OnSynthError: func(messageID uuid.UUID, marker string, retryable bool) {
			c.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID.String(),
				MessageID: messageID.String(),
				Code:      "synthesis_failed",
				Source:    "synth",
				Retryable: retryable,
				Detail:    marker,
			})
		},
	}, s.synth, speech.NewPlaybackQueue(sink), s.metrics, s.logger)

	return c
}

// send enqueues without blocking. Websocket writes stay single-threaded; a
// saturated outbound queue drops the frame rather than stalling the speech
// pipeline.
func (c *wsConn) send(msg any) {
	select {
	case c.outbound <- msg:
	default:
		c.server.logger.Warn("outbound queue full, dropping frame", "session_id", c.sessionID)
	}
}

// startTurn supersedes any in-flight turn and streams a new assistant
// reply. With msg.Speak set, the reply is spoken as it streams.
func (c *wsConn) startTurn(parent context.Context, msg protocol.ClientChat) {
	c.cancelTurn()

	turnCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.turnMu.Lock()
	c.turnCancel = cancel
	c.turnDone = done
	c.turnMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		var speakStarted bool
		_, err := c.server.chat.RunTurn(turnCtx, c.sessionID, msg.Text, chat.TurnEvents{
			OnDelta: func(messageID uuid.UUID, delta string) {
				c.send(protocol.AssistantTextDelta{
					Type:      protocol.TypeAssistantTextDelta,
					SessionID: c.sessionID.String(),
					MessageID: messageID.String(),
					TextDelta: delta,
				})
				if !msg.Speak {
					return
				}
				if !speakStarted {
					speakStarted = true
					c.controller.Start(messageID, "")
				}
				c.controller.Feed(messageID, delta)
			},
			OnStreamError: func(messageID uuid.UUID, marker string) {
				c.send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: c.sessionID.String(),
					MessageID: messageID.String(),
					Code:      "stream_failed",
					Source:    "llm",
					Retryable: true,
					Detail:    marker,
				})
			},
			OnComplete: func(messageID uuid.UUID, _ string) {
				// Trailing prose is flushed and spoken even when the stream
				// failed mid-way; the session stays live until drained.
				if speakStarted {
					c.controller.Finish(messageID)
				}
				reason := "completed"
				if err := turnCtx.Err(); err != nil {
					reason = "cancelled"
				}
				c.send(protocol.AssistantTurnEnd{
					Type:      protocol.TypeAssistantTurnEnd,
					SessionID: c.sessionID.String(),
					MessageID: messageID.String(),
					Reason:    reason,
				})
			},
		})
		if err != nil && turnCtx.Err() == nil {
			c.server.logger.Warn("turn failed", "session_id", c.sessionID, "error", err)
		}
	}()
}

func (c *wsConn) handleControl(ctx context.Context, msg protocol.ClientControl) {
	switch msg.Action {
	case protocol.ActionStopAudio:
		c.controller.Stop()
	case protocol.ActionSpeakMessage:
		c.speakStoredMessage(ctx, msg.MessageID)
	default:
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sessionID.String(),
			Code:      "unknown_action",
			Source:    "gateway",
			Detail:    msg.Action,
		})
	}
}

// speakStoredMessage replays a persisted assistant message through the
// speech pipeline: the whole text is known up front, so the session is
// primed and finished in one step.
func (c *wsConn) speakStoredMessage(ctx context.Context, rawID string) {
	messageID, err := uuid.Parse(rawID)
	if err != nil {
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sessionID.String(),
			Code:      "invalid_message_id",
			Source:    "gateway",
			Detail:    "message_id must be a uuid",
		})
		return
	}

	msgs, err := c.server.store.Messages(ctx, c.sessionID)
	if err != nil {
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sessionID.String(),
			MessageID: rawID,
			Code:      "store_error",
			Source:    "store",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	for _, m := range msgs {
		if m.ID == messageID && m.Role == history.RoleAssistant {
			c.controller.Start(messageID, m.Content)
			c.controller.Finish(messageID)
			return
		}
	}
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID.String(),
		MessageID: rawID,
		Code:      "message_not_found",
		Source:    "gateway",
		Detail:    "no assistant message with that id in this session",
	})
}

func (c *wsConn) cancelTurn() {
	c.turnMu.Lock()
	cancel := c.turnCancel
	done := c.turnDone
	c.turnCancel = nil
	c.turnDone = nil
	c.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *wsConn) close() {
	c.cancelTurn()
	c.controller.Stop()
}

// wsSink delivers audio frames over the websocket and paces queue
// advancement at clip duration, so frame N+1 leaves the server roughly when
// frame N finishes playing client-side.
type wsSink struct {
	sessionID uuid.UUID
	send      func(msg any)

	mu       sync.Mutex
	timer    *time.Timer
	playing  bool
	speaking bool
}

func newWSSink(sessionID uuid.UUID, send func(msg any)) *wsSink {
	return &wsSink{sessionID: sessionID, send: send}
}

func (s *wsSink) Play(h *speech.AudioHandle, done func(error)) {
	s.send(protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   s.sessionID.String(),
		MessageID:   h.MessageID.String(),
		Seq:         h.Seq,
		Format:      h.Format,
		AudioBase64: base64.StdEncoding.EncodeToString(h.WAV),
	})

	s.mu.Lock()
	s.playing = true
	if !s.speaking {
		s.speaking = true
		s.send(protocol.SpeechState{
			Type:      protocol.TypeSpeechState,
			SessionID: s.sessionID.String(),
			MessageID: h.MessageID.String(),
			Speaking:  true,
		})
	}
	s.mu.Unlock()

	d, err := audio.Duration(h.WAV)
	if err != nil {
		// Unparseable clip: report it and let the queue advance.
		s.finish(h, done, err)
		return
	}
	s.mu.Lock()
	s.timer = time.AfterFunc(d, func() {
		s.finish(h, done, nil)
	})
	s.mu.Unlock()
}

func (s *wsSink) finish(h *speech.AudioHandle, done func(error), err error) {
	s.mu.Lock()
	s.playing = false
	s.timer = nil
	s.mu.Unlock()

	done(err)

	// If the completion did not chain straight into the next clip, playback
	// has gone idle.
	s.mu.Lock()
	if !s.playing && s.speaking {
		s.speaking = false
		s.send(protocol.SpeechState{
			Type:      protocol.TypeSpeechState,
			SessionID: s.sessionID.String(),
			MessageID: h.MessageID.String(),
			Speaking:  false,
		})
	}
	s.mu.Unlock()
}

func (s *wsSink) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.playing = false
	wasSpeaking := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if wasSpeaking {
		s.send(protocol.SpeechState{
			Type:      protocol.TypeSpeechState,
			SessionID: s.sessionID.String(),
			Speaking:  false,
		})
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientChat:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SpeechState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
