// Package devserver es un backend KeePassHTTP en memoria que habla el mismo protocolo
// que el servidor real (/state, /restart_keepass_http, /action, /delete_action).
//
// Sirve para desarrollo local (`kphconsole devserver`) y como backend de los tests.
package devserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/kphconsole/internal/domain/types"
	"github.com/dropDatabas3/kphconsole/internal/observability/logger"
	"github.com/dropDatabas3/kphconsole/internal/validation"
)

// ErrInvalidDBPath es el error de dominio que devuelve un save con keepass_db inválido.
const ErrInvalidDBPath = "invalid database path"

// Server guarda config, cola de acciones y estado del servicio en memoria.
type Server struct {
	mu       sync.Mutex
	config   map[string]string
	actions  []types.PendingAction
	running  bool
	failNext map[string]int
	calls    map[string]int
	now      func() time.Time
}

// Option configura el Server.
type Option func(*Server)

// WithConfig siembra la configuración inicial.
func WithConfig(cfg map[string]string) Option {
	return func(s *Server) {
		for k, v := range cfg {
			s.config[k] = v
		}
	}
}

// WithRunning fija el estado inicial del servicio.
func WithRunning(running bool) Option {
	return func(s *Server) { s.running = running }
}

func New(opts ...Option) *Server {
	s := &Server{
		config:   map[string]string{},
		failNext: map[string]int{},
		calls:    map[string]int{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler arma el router chi con los endpoints del backend.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID, withLogging, s.countAndInject)

	r.Get("/state", s.getState)
	r.Post("/state", s.saveState)
	r.Post("/restart_keepass_http", s.restart)
	r.Post("/action", s.approveAction)
	r.Post("/delete_action", s.deleteAction)
	return r
}

// AddAction encola un pedido nuevo, como cuando un cliente externo pide asociarse.
func (s *Server) AddAction(t types.ActionType, client string) types.PendingAction {
	a := types.PendingAction{
		ID:     uuid.NewString(),
		Type:   t,
		Date:   s.now().Format(time.RFC1123),
		Client: client,
	}
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
	return a
}

// Actions retorna la cola actual en orden.
func (s *Server) Actions() []types.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PendingAction(nil), s.actions...)
}

// Config retorna una copia de la configuración guardada.
func (s *Server) Config() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FailNext hace que el próximo request a path responda status con un body no-JSON.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	s.failNext[path] = status
	s.mu.Unlock()
}

// Calls cuenta los requests recibidos para "METHOD /path".
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) countAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		status, fail := s.failNext[r.URL.Path]
		delete(s.failNext, r.URL.Path)
		s.mu.Unlock()
		if fail {
			http.Error(w, "injected failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// snapshotLocked arma la respuesta de estado. Requiere s.mu tomado.
func (s *Server) snapshotLocked(errMsg string) types.ServerState {
	cfg := make(map[string]string, len(s.config))
	for k, v := range s.config {
		cfg[k] = v
	}
	return types.ServerState{
		Config:        cfg,
		Actions:       append([]types.PendingAction{}, s.actions...),
		ServerRunning: s.running,
		Error:         errMsg,
	}
}

// GET /state
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := s.snapshotLocked("")
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

// POST /state
func (s *Server) saveState(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if !readJSON(w, r, &in) {
		return
	}
	fields := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		fields[k] = strings.TrimSpace(fmt.Sprint(v))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := fields[validation.FieldDB]; ok && !validDBPath(db) {
		logger.From(r.Context()).Info("rejecting save", logger.Field(validation.FieldDB, db))
		writeJSON(w, http.StatusOK, s.snapshotLocked(ErrInvalidDBPath))
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.config[k] = fields[k]
	}
	// el servicio queda detenido hasta el próximo restart
	s.running = false
	writeJSON(w, http.StatusOK, s.snapshotLocked(""))
}

// POST /restart_keepass_http
func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validDBPath(s.config[validation.FieldDB]) {
		writeJSON(w, http.StatusOK, errorBody{Error: "server is not configured"})
		return
	}
	s.running = true
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// POST /action
func (s *Server) approveAction(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	if !readJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in[validation.FieldData]) == "" {
		writeJSON(w, http.StatusOK, errorBody{Error: "data is required"})
		return
	}
	s.removeAction(w, r, in["id"])
}

// POST /delete_action
func (s *Server) deleteAction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"id"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	s.removeAction(w, r, in.ID)
}

func (s *Server) removeAction(w http.ResponseWriter, r *http.Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.actions {
		if a.ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			logger.From(r.Context()).Info("action resolved", logger.ActionID(id))
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "action not found")
}

func validDBPath(p string) bool {
	p = strings.TrimSpace(p)
	return p != "" && strings.HasSuffix(strings.ToLower(p), ".kdbx")
}
