// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Taleweave Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes sessions over HTTP for drivers that embed the
// runtime out of process. Sessions live in memory; the optional snapshot
// store persists them across restarts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/taleweave/taleweave/pkg/agent"
	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/llms"
	"github.com/taleweave/taleweave/pkg/logger"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/session"
)

type Server struct {
	cfg     *config.Config
	scenes  scene.Source
	store   session.SnapshotStore
	clients *llms.Registry

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func New(cfg *config.Config, scenes scene.Source, store session.SnapshotStore) *Server {
	return &Server{
		cfg:      cfg,
		scenes:   scenes,
		store:    store,
		clients:  llms.NewRegistry(),
		sessions: make(map[string]*session.Session),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Post("/restore", s.handleRestore)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/advance", s.handleAdvance)
			r.Get("/snapshot", s.handleSnapshot)
			r.Delete("/", s.handleDelete)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := logger.GetLogger()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type createRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	Location  string `json:"location"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
			return
		}
	}

	var opts []session.Option
	opts = append(opts, session.WithClients(s.clients))
	if req.SessionID != "" {
		opts = append(opts, session.WithID(req.SessionID))
	}

	sess, err := session.New(s.cfg, s.scenes, opts...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, createResponse{
		SessionID: sess.ID(),
		Location:  sess.World().Location(),
	})
}

type advanceRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
		return
	}

	event, err := sess.Advance(r.Context(), req.Input)
	if err != nil {
		if errors.Is(err, agent.ErrCorruptWorld) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.store != nil {
		if snapshot, snapErr := sess.Snapshot(); snapErr == nil {
			if saveErr := s.store.Save(r.Context(), sess.ID(), snapshot); saveErr != nil {
				logger.GetLogger().Warn("Failed to persist snapshot",
					"session", sess.ID(), "error", saveErr)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	snapshot, err := sess.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(snapshot)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := session.Restore(s.cfg, s.scenes, data, session.WithClients(s.clients))
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, createResponse{
		SessionID: sess.ID(),
		Location:  sess.World().Location(),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.Delete(r.Context(), id); err != nil {
			logger.GetLogger().Warn("Failed to delete persisted snapshot",
				"session", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"scenes": s.scenes.Current().Len(),
	})
}

func (s *Server) lookup(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.GetLogger().Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
