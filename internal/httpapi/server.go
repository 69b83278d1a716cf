// Package httpapi exposes the service over HTTP: REST endpoints for chat
// history and speech previews, and the websocket endpoint that carries live
// conversations.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lectorlabs/lector/internal/chat"
	"github.com/lectorlabs/lector/internal/config"
	"github.com/lectorlabs/lector/internal/history"
	"github.com/lectorlabs/lector/internal/observability"
	"github.com/lectorlabs/lector/internal/synth"
)

type Server struct {
	cfg      config.Config
	store    history.Store
	chat     *chat.Service
	synth    synth.Synthesizer
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store history.Store, chatSvc *chat.Service, synthesizer synth.Synthesizer, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		chat:    chatSvc,
		synth:   synthesizer,
		metrics: metrics,
		logger:  logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default, so another
				// site cannot drive the user's speakers if the service is
				// ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}/messages", s.handleListMessages)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)
	r.Post("/v1/speech/preview", s.handleSpeechPreview)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if sessions == nil {
		sessions = []history.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a uuid")
		return
	}
	msgs, err := s.store.Messages(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a uuid")
		return
	}
	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": sessionID})
}

type previewRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// handleSpeechPreview synthesizes a one-off clip outside any utterance
// session, for voice picking and backend smoke checks.
func (s *Server) handleSpeechPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.TTSVoice
	}

	res, err := s.synth.Synthesize(r.Context(), synth.Request{Text: req.Text, Voice: voice, Speed: s.cfg.TTSSpeed})
	if err != nil {
		var httpErr *synth.HTTPError
		if errors.As(err, &httpErr) {
			respondError(w, http.StatusBadGateway, "synthesis_failed", httpErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "synthesis_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
