package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/manager"
	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
	"github.com/soporteakasiapro1-art/pi-island/internal/rpc"
	"github.com/soporteakasiapro1-art/pi-island/internal/session"
	"github.com/soporteakasiapro1-art/pi-island/internal/version"
)

// API response types

// SessionsResponse lists the registry.
type SessionsResponse struct {
	Live       []session.Snapshot `json:"live"`
	Historical []session.Snapshot `json:"historical"`
	Selected   string             `json:"selected,omitempty"`
	Activity   manager.Activity   `json:"activity"`
}

// CreateSessionRequest starts a new live session.
type CreateSessionRequest struct {
	Cwd string `json:"cwd"`
}

// IDResponse carries the id of a created or resumed session.
type IDResponse struct {
	ID string `json:"id"`
}

// MessageRequest is the body of prompt, steer and follow_up.
type MessageRequest struct {
	Message string             `json:"message"`
	Images  []rpc.ImageContent `json:"images,omitempty"`
}

// ModelRequest selects a model.
type ModelRequest struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
}

// ThinkingRequest selects a thinking level.
type ThinkingRequest struct {
	Level string `json:"level"`
}

// CompactRequest carries optional compaction instructions.
type CompactRequest struct {
	Instructions string `json:"instructions,omitempty"`
}

// ModelsResponse lists the models the agent can use.
type ModelsResponse struct {
	Models []pi.ModelRef `json:"models"`
}

// CommandsResponse lists the agent's slash commands.
type CommandsResponse struct {
	Commands []rpc.SlashCommand `json:"commands"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Uptime   string           `json:"uptime"`
	Live     int              `json:"live"`
	Activity manager.Activity `json:"activity"`
}

// StatusResponse acknowledges a fire-and-forget command.
type StatusResponse struct {
	Status string `json:"status"`
}

var accepted = StatusResponse{Status: "accepted"}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// writeErr maps domain errors to statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrNotLive),
		errors.Is(err, manager.ErrAlreadyLive),
		errors.Is(err, manager.ErrNoFile),
		errors.Is(err, session.ErrStopped),
		errors.Is(err, rpc.ErrNotRunning),
		errors.Is(err, rpc.ErrProcessExited):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, rpc.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case rpc.IsCommandError(err):
		writeError(w, http.StatusBadGateway, "agent_error", err.Error())
	case errors.Is(err, manager.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "closed", err.Error())
	default:
		islandlog.Log.Error("API request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return false
	}
	return true
}

// session resolves the {id} parameter, writing the error response on
// failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.manager.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  version.Get(),
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
		Live:     len(s.manager.Live()),
		Activity: s.manager.Activity(),
	})
}

// handleListSessions returns live and historical sessions. Passing
// ?messages=false strips message bodies.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	resp := SessionsResponse{
		Live:       s.manager.Live(),
		Historical: s.manager.Historical(),
		Selected:   s.manager.Selected(),
		Activity:   s.manager.Activity(),
	}
	if v := r.URL.Query().Get("messages"); v != "" {
		if keep, err := strconv.ParseBool(v); err == nil && !keep {
			stripMessages(resp.Live)
			stripMessages(resp.Historical)
		}
	}
	if resp.Live == nil {
		resp.Live = []session.Snapshot{}
	}
	if resp.Historical == nil {
		resp.Historical = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func stripMessages(snaps []session.Snapshot) {
	for i := range snaps {
		snaps[i].Messages = nil
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Cwd) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "cwd is required")
		return
	}
	id, err := s.manager.Create(req.Cwd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// handleRemoveSession drops a session. With ?file=true its transcript is
// deleted first.
func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	withFile, _ := strconv.ParseBool(r.URL.Query().Get("file"))

	var err error
	if withFile {
		err = s.manager.Delete(id)
	} else {
		err = s.manager.Remove(id)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(send func(*session.Session, MessageRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		var req MessageRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Message == "" && len(req.Images) == 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "message is required")
			return
		}
		if err := send(sess, req); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, accepted)
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	s.handleMessage(func(sess *session.Session, req MessageRequest) error {
		return sess.SendPrompt(req.Message, req.Images...)
	})(w, r)
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	s.handleMessage(func(sess *session.Session, req MessageRequest) error {
		return sess.Steer(req.Message)
	})(w, r)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	s.handleMessage(func(sess *session.Session, req MessageRequest) error {
		return sess.FollowUp(req.Message)
	})(w, r)
}

// fire runs a fire-and-forget session command.
func (s *Server) fire(w http.ResponseWriter, r *http.Request, fn func(*session.Session) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := fn(sess); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.fire(w, r, (*session.Session).Abort)
}

func (s *Server) handleCycleModel(w http.ResponseWriter, r *http.Request) {
	s.fire(w, r, (*session.Session).CycleModel)
}

func (s *Server) handleCycleThinking(w http.ResponseWriter, r *http.Request) {
	s.fire(w, r, (*session.Session).CycleThinkingLevel)
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ModelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Provider == "" || req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "provider and model_id are required")
		return
	}
	if err := sess.SetModel(r.Context(), req.Provider, req.ModelID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetThinking(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ThinkingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Level == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "level is required")
		return
	}
	if err := sess.SetThinkingLevel(r.Context(), req.Level); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req CompactRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := sess.Compact(r.Context(), req.Instructions)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, result)
}

// handleNewSession starts a fresh transcript in the session's agent. The
// previous transcript becomes a historical session.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.NewSession(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	stats, err := sess.SessionStats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	models, err := sess.AvailableModels(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if models == nil {
		models = []pi.ModelRef{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	cmds, err := sess.Commands(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if cmds == nil {
		cmds = []rpc.SlashCommand{}
	}
	writeJSON(w, http.StatusOK, CommandsResponse{Commands: cmds})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := s.manager.Resume(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Select(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
