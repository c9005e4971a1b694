package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dossier-io/dossier/internal/agent"
	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/llm"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/requestctx"
	"github.com/dossier-io/dossier/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type runCreateRequest struct {
	Question     string `json:"question"`
	Context      string `json:"context,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Confidential bool   `json:"confidential,omitempty"`
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req runCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	orgID := requestctx.OrgID(r.Context())
	userID := req.UserID
	if ctxUser := requestctx.UserID(r.Context()); ctxUser != "" {
		userID = ctxUser
	}

	access, err := policy.LoadAccessContext(r.Context(), s.accessDir, orgID+".yaml")
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("access_context_load_failed")
		writeError(w, http.StatusForbidden, "access_context_missing", "no access context for org")
		return
	}
	if !access.IPAllowed(r.RemoteAddr) {
		log.Warn().Str("org_id", orgID).Str("remote_addr", r.RemoteAddr).Msg("ip_allowlist_denied")
		s.writeRunError(w, orgID, &policy.ViolationError{
			Code:    policy.CodeIPNotAllowed,
			Reasons: []string{policy.CodeIPNotAllowed},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	resp, err := s.runner.Run(ctx, &agent.RunInput{
		Question:     req.Question,
		Context:      req.Context,
		OrgID:        orgID,
		UserID:       userID,
		Confidential: req.Confidential,
	}, access)
	if err != nil {
		s.writeRunError(w, orgID, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeRunError(w http.ResponseWriter, orgID string, err error) {
	var verr *policy.ViolationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":   "policy_denied",
			"code":    verr.Code,
			"reasons": verr.Reasons,
		})
		return
	}
	var oos *citation.OutOfScopeError
	if errors.As(err, &oos) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "citation_out_of_scope",
			"hosts": oos.Hosts,
		})
		return
	}
	if errors.Is(err, agent.ErrRateLimited) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
		return
	}
	if rej, ok := llm.AsGuardrailRejection(err); ok {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":        "guardrail_rejected",
			"guardrail_id": rej.GuardrailID,
		})
		return
	}
	log.Error().Err(err).Str("org_id", orgID).Msg("run_error")
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), requestctx.OrgID(r.Context()), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// getOwnedRun loads the run and checks it belongs to the caller's org.
// Foreign runs report not_found rather than forbidden.
func (s *Server) getOwnedRun(w http.ResponseWriter, r *http.Request) *store.RunRecord {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil
	}
	if run.OrgID != requestctx.OrgID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return nil
	}
	return run
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	run := s.getOwnedRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunCitations(w http.ResponseWriter, r *http.Request) {
	run := s.getOwnedRun(w, r)
	if run == nil {
		return
	}
	citations, err := s.store.ListCitationsByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if citations == nil {
		citations = []store.CitationRow{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"citations": citations})
}

func (s *Server) handleRunTools(w http.ResponseWriter, r *http.Request) {
	run := s.getOwnedRun(w, r)
	if run == nil {
		return
	}
	tools, err := s.store.ListToolInvocationsByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if tools == nil {
		tools = []store.ToolInvocation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tool_invocations": tools})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.store.ListAuditEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"audit_events": events})
}
