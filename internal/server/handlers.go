package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

const (
	msgSessionNotFound = "Browser session not found"
	msgPageNotFound    = "Page not found"
	maxBodyBytes       = 1 << 20
)

// GetRequest is the body of the structured extraction route.
type GetRequest struct {
	Command string `json:"command"`
	// Schema is a JSON Schema description. When absent any JSON value is accepted.
	Schema any `json:"schema,omitempty"`
}

// InventoryItem is one secret supplied with a browse request.
type InventoryItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// BrowseRequest is the body of the browse route.
type BrowseRequest struct {
	StartURL      string          `json:"startUrl"`
	Objective     []string        `json:"objective"`
	MaxIterations int             `json:"maxIterations,omitempty"`
	Schema        any             `json:"schema,omitempty"`
	Inventory     []InventoryItem `json:"inventory,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.registry.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.registry.Full() {
		s.respondError(w, http.StatusTooManyRequests, ErrSessionLimit.Error())
		return
	}
	b, err := s.newBrowser(r.Context())
	if err != nil {
		s.logger.Error("Failed to launch browser", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to launch browser: %v", err))
		return
	}
	sess, err := s.registry.Add(b)
	if err != nil {
		_ = b.Close(r.Context())
		s.respondError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	s.respond(w, http.StatusCreated, map[string]string{"sessionId": sess.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Remove(chi.URLParam(r, "browserSession"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, msgSessionNotFound)
		return
	}
	if err := sess.Browser.Close(r.Context()); err != nil {
		s.logger.Warn("Browser did not close cleanly", zap.String("session_id", sess.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(chi.URLParam(r, "browserSession"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, msgSessionNotFound)
		return
	}
	page, err := sess.Browser.NewPage(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open page: %v", err))
		return
	}
	s.respond(w, http.StatusCreated, map[string]string{"pageId": page.ID()})
}

// lookup resolves the session and page of the request, answering 400 when
// either is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Session, browser.Page, bool) {
	sess, ok := s.registry.Get(chi.URLParam(r, "browserSession"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, msgSessionNotFound)
		return nil, nil, false
	}
	page, ok := sess.Browser.Page(chi.URLParam(r, "pageId"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, msgPageNotFound)
		return nil, nil, false
	}
	return sess, page, true
}

func (s *Server) compile(description any) (*schema.Schema, error) {
	if description == nil {
		return schema.Any(), nil
	}
	return s.cache.Compile(description)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	_, page, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req GetRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.respondError(w, http.StatusBadRequest, "command is required")
		return
	}
	sch, err := s.compile(req.Schema)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := page.Get(r.Context(), req.Command, sch)
	if err != nil {
		s.logger.Warn("Extraction failed", zap.String("page_id", page.ID()), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	sess, page, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req BrowseRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = s.maxIterations
	}

	var rs *agent.ResponseSchema
	if req.Schema != nil {
		sch, err := s.cache.Compile(req.Schema)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rs = agent.BuildResponseSchema(sch)
	}

	entries := make([]inventory.Entry, len(req.Inventory))
	for i, item := range req.Inventory {
		entries[i] = inventory.Entry{Name: item.Name, Value: item.Value, Type: item.Type}
	}
	inv, err := inventory.New(entries)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, err := sess.acquire(page.ID())
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	defer release()

	opts := []agentbrowser.Option{
		agentbrowser.WithSessionID(sess.ID),
		agentbrowser.WithInventory(inv),
		agentbrowser.WithPolicy(s.policy),
		agentbrowser.WithMaxConsecutiveFailures(s.maxFailures),
		agentbrowser.WithEventSink(s.hub),
	}
	if s.reporter != nil {
		opts = append(opts, agentbrowser.WithReporter(s.reporter))
	}
	ab := agentbrowser.New(page, s.decider, s.logger, opts...)

	result, err := ab.Browse(r.Context(), agentbrowser.Args{
		StartURL:      req.StartURL,
		Objective:     req.Objective,
		MaxIterations: req.MaxIterations,
	}, rs)
	if errors.Is(err, agentbrowser.ErrInvalidArgs) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "browserSession")
	if _, ok := s.registry.Get(id); !ok {
		s.respondError(w, http.StatusBadRequest, msgSessionNotFound)
		return
	}
	s.hub.ServeSession(w, r, id)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, errorResponse{Message: message})
}
