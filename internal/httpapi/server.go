package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/session"
)

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	registry    *agent.Registry
	credentials *CredentialIssuer
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(cfg config.Config, sessions *session.Manager, registry *agent.Registry, credentials *CredentialIssuer, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		registry:    registry,
		credentials: credentials,
		metrics:     metrics,
		log:         log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/realtime/credential", s.handleCredential)

	return r
}

// corsMiddleware opens the API to any origin when configured; the default
// is same-origin only.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowAnyOrigin {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"agents": s.registry.Names(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.FrontendID) == "" {
		req.FrontendID = "anonymous"
	}
	if strings.TrimSpace(req.AgentName) == "" {
		req.AgentName = s.cfg.DefaultAgent
	}
	if strings.TrimSpace(req.Modality) == "" {
		req.Modality = "voice"
	}
	if _, err := s.registry.Get(req.AgentName); err != nil {
		respondError(w, http.StatusBadRequest, "unknown_agent", err.Error())
		return
	}

	sess := s.sessions.Create(req.FrontendID, req.AgentName, req.Modality)
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		FrontendID:      sess.FrontendID,
		Status:          sess.Status,
		AgentName:       sess.AgentName,
		Modality:        sess.Modality,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleCredential issues one short-lived transport credential per call.
// This endpoint is itself the auth gate; the caller supplies nothing.
func (s *Server) handleCredential(w http.ResponseWriter, _ *http.Request) {
	token, err := s.credentials.Issue()
	if err != nil {
		s.log.Error().Err(err).Msg("credential issue failed")
		respondError(w, http.StatusBadGateway, "credential_unavailable", "could not obtain realtime credential")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
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
