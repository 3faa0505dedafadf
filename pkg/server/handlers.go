package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

const maxCommandBody = 4 << 10

// Commands accepted by POST /api/command beyond the voice vocabulary.
const (
	actionPrimary     = "primary"
	actionTogglePause = "toggle_pause"
)

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Applied    bool             `json:"applied"`
	Projection coach.Projection `json:"projection"`
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.Projection())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, core.ErrInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}

	action := strings.ToLower(strings.TrimSpace(req.Command))
	applied := false
	switch action {
	case actionPrimary:
		s.coach.Primary()
		applied = true
	case actionTogglePause:
		s.coach.TogglePause()
		applied = true
	default:
		cmd := coach.ParseCommand(action)
		if cmd == coach.CommandNone {
			writeError(w, http.StatusBadRequest, core.ErrInvalidRequest,
				"command must be one of skip|done|start|pause|resume|reset|primary|toggle_pause")
			return
		}
		applied = s.coach.Execute(cmd)
	}
	s.logger.Info("http command", zap.String("command", action), zap.Bool("applied", applied))
	writeJSON(w, http.StatusOK, commandResponse{Applied: applied, Projection: s.coach.Projection()})
}

func (s *Server) handleListProcedures(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context(), s.cfg.Account)
	if err != nil {
		s.logger.Error("list procedures", zap.Error(err))
		writeError(w, http.StatusInternalServerError, core.ErrAPI, "failed to list procedures")
		return
	}
	if list == nil {
		list = []procedures.Procedure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedures": list})
}

func (s *Server) handleUseProcedure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p procedures.Procedure
	if id == procedures.Barista().ID {
		p = procedures.Barista()
	} else {
		var err error
		p, err = s.store.Get(r.Context(), s.cfg.Account, id)
		if errors.Is(err, procedures.ErrNotFound) {
			writeError(w, http.StatusNotFound, core.ErrNotFound, "procedure "+id+" not found")
			return
		}
		if err != nil {
			s.logger.Error("get procedure", zap.String("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, core.ErrAPI, "failed to load procedure")
			return
		}
	}

	if err := s.coach.LoadProcedure(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, core.ErrInvalidRequest, err.Error())
		return
	}
	if err := s.store.SetCurrent(r.Context(), p); err != nil {
		s.logger.Warn("persist current procedure", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, s.coach.Projection())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ core.ErrorType, msg string) {
	writeJSON(w, status, errorEnvelope{Error: &core.Error{Type: typ, Message: msg, Status: status}})
}
