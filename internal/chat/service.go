package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lectorlabs/lector/internal/history"
)

// TurnEvents receives the observable output of one turn. All callbacks are
// invoked from the goroutine running the turn, in stream order. Any field
// may be nil.
type TurnEvents struct {
	// OnDelta fires for each text fragment as it arrives.
	OnDelta func(messageID uuid.UUID, delta string)
	// OnStreamError fires at most once, with a user-visible marker, when
	// the upstream stream fails for a reason other than cancellation.
	OnStreamError func(messageID uuid.UUID, marker string)
	// OnComplete fires after the stream ends, normally or with a surfaced
	// error, with the final message text. Not fired on cancellation.
	OnComplete func(messageID uuid.UUID, fullText string)
}

// ServiceConfig tunes prompt assembly.
type ServiceConfig struct {
	SystemPrompt string
	// ContextLimit bounds how many prior messages are replayed into the
	// prompt. Zero means no limit.
	ContextLimit int
}

// Service runs conversational turns against the completion backend and
// records both sides in the history store.
type Service struct {
	cfg    ServiceConfig
	llm    StreamClient
	store  history.Store
	logger *slog.Logger
}

func NewService(cfg ServiceConfig, llm StreamClient, store history.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, llm: llm, store: store, logger: logger.With("component", "chat")}
}

// RunTurn streams one assistant reply for userText within sessionID. It
// returns the assistant message id immediately usable for correlation; the
// id is also carried on every event callback.
//
// Cancellation of ctx aborts the stream silently. Any other stream failure
// is appended to the message text as a single terminal marker, and the turn
// still completes so already-received text survives.
func (s *Service) RunTurn(ctx context.Context, sessionID uuid.UUID, userText string, ev TurnEvents) (uuid.UUID, error) {
	messageID := uuid.New()

	userMsg := history.Message{ID: uuid.New(), SessionID: sessionID, Role: history.RoleUser, Content: userText}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		s.logger.Warn("save user message failed", "session_id", sessionID, "error", err)
	}

	full, streamErr := s.llm.StreamCompletion(ctx, s.buildPrompt(ctx, sessionID, userText), func(delta string) error {
		if ev.OnDelta != nil {
			ev.OnDelta(messageID, delta)
		}
		return ctx.Err()
	})

	if streamErr != nil && (errors.Is(streamErr, context.Canceled) || ctx.Err() != nil) {
		s.savePartial(sessionID, messageID, full)
		return messageID, context.Canceled
	}
	if streamErr != nil {
		marker := fmt.Sprintf("\n\n*[Stream error: %v]*", streamErr)
		full += marker
		if ev.OnStreamError != nil {
			ev.OnStreamError(messageID, marker)
		}
		s.logger.Warn("completion stream failed", "session_id", sessionID, "error", streamErr)
	}

	if full != "" {
		msg := history.Message{ID: messageID, SessionID: sessionID, Role: history.RoleAssistant, Content: full}
		if err := s.store.SaveMessage(ctx, msg); err != nil {
			s.logger.Warn("save assistant message failed", "session_id", sessionID, "error", err)
		}
	}
	if ev.OnComplete != nil {
		ev.OnComplete(messageID, full)
	}
	return messageID, streamErr
}

// buildPrompt replays stored history for the session. The just-saved user
// message is part of that history; if the store is unavailable the prompt
// degrades to the current question alone.
func (s *Service) buildPrompt(ctx context.Context, sessionID uuid.UUID, userText string) []ChatMessage {
	var prompt []ChatMessage
	if s.cfg.SystemPrompt != "" {
		prompt = append(prompt, ChatMessage{Role: "system", Content: s.cfg.SystemPrompt})
	}

	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil || len(msgs) == 0 {
		if err != nil {
			s.logger.Warn("load history failed", "session_id", sessionID, "error", err)
		}
		return append(prompt, ChatMessage{Role: history.RoleUser, Content: userText})
	}

	if s.cfg.ContextLimit > 0 && len(msgs) > s.cfg.ContextLimit {
		msgs = msgs[len(msgs)-s.cfg.ContextLimit:]
	}
	for _, m := range msgs {
		prompt = append(prompt, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return prompt
}

// savePartial records whatever text arrived before a cancellation, using a
// background context since the turn's own context is already dead.
func (s *Service) savePartial(sessionID, messageID uuid.UUID, text string) {
	if text == "" {
		return
	}
	msg := history.Message{ID: messageID, SessionID: sessionID, Role: history.RoleAssistant, Content: text}
	if err := s.store.SaveMessage(context.Background(), msg); err != nil {
		s.logger.Warn("save partial assistant message failed", "session_id", sessionID, "error", err)
	}
}
