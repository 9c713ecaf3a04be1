// Package api exposes the daemon's local HTTP surface: the candidate
// review wizard, rule and ignore management, the household registry, and
// manual sync triggers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/importer"
	"github.com/hearthhq/hearth/internal/mapping"
	"github.com/hearthhq/hearth/internal/security"
	"github.com/hearthhq/hearth/internal/store"
)

type Server struct {
	store    *store.Store
	engine   *mapping.Engine
	importer *importer.Importer
	guard    security.TokenGuard
	log      *slog.Logger
	httpSrv  *http.Server
}

type Options struct {
	Store    *store.Store
	Engine   *mapping.Engine
	Importer *importer.Importer
	Guard    security.TokenGuard
	Logger   *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    opts.Store,
		engine:   opts.Engine,
		importer: opts.Importer,
		guard:    opts.Guard,
		log:      logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/candidates", s.handleCandidates).Methods(http.MethodGet)
	v1.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id}/confirm", s.handleConfirmRule).Methods(http.MethodPost)
	v1.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	v1.HandleFunc("/ignores", s.handleIgnore).Methods(http.MethodPost)
	v1.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	v1.HandleFunc("/recompute", s.handleRecompute).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/homes", s.handleListHomes).Methods(http.MethodGet)
	v1.HandleFunc("/homes", s.handleUpsertHome).Methods(http.MethodPost)
	v1.HandleFunc("/children", s.handleListChildren).Methods(http.MethodGet)
	v1.HandleFunc("/children", s.handleUpsertChild).Methods(http.MethodPost)
	v1.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	v1.HandleFunc("/sources", s.handleUpsertSource).Methods(http.MethodPost)

	s.httpSrv = &http.Server{Handler: s.guard.Middleware(r), ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) ServeTCP(ctx context.Context, bind string) error {
	if bind == "" {
		return errors.New("bind required")
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) ServeUnix(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("socket path required")
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) shutdownOnContext(ctx context.Context) {
	<-ctx.Done()
	timeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.HomeStayCandidates(r.Context(), r.URL.Query().Get("child_id"))
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in mapping.CreateRuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.engine.CreateMappingRule(r.Context(), in)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.AllRules(r.Context())
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleConfirmRule(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ConfirmMappingRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.PendingConfirmations(r.Context(), r.URL.Query().Get("child_id"))
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type ignoreRequest struct {
	Title            string `json:"title"`
	CalendarSourceID string `json:"calendar_source_id"`
	ChildID          string `json:"child_id"`
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var in ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.engine.IgnoreCandidatesByTitle(r.Context(), in.Title, in.CalendarSourceID, in.ChildID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.importer.SyncAll(r.Context(), r.URL.Query().Get("source_id"))
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		writeErr(w, http.StatusBadRequest, "source_id required")
		return
	}
	changed, err := s.engine.RecomputeSource(r.Context(), sourceID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendar_source_id": sourceID, "events_updated": changed})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		events []domain.CalendarEvent
		err    error
	)
	switch {
	case r.URL.Query().Get("source_id") != "":
		events, err = s.store.EventsBySource(ctx, r.URL.Query().Get("source_id"))
	case r.URL.Query().Get("child_id") != "":
		events, err = s.store.EventsByChild(ctx, r.URL.Query().Get("child_id"))
	default:
		events, err = s.store.AllEvents(ctx)
	}
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListHomes(w http.ResponseWriter, r *http.Request) {
	homes, err := s.store.ListHomes(r.Context())
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, homes)
}

func (s *Server) handleUpsertHome(w http.ResponseWriter, r *http.Request) {
	var h domain.Home
	if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := s.store.UpsertHome(r.Context(), h)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.store.ListChildren(r.Context())
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (s *Server) handleUpsertChild(w http.ResponseWriter, r *http.Request) {
	var c domain.Child
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := s.store.UpsertChild(r.Context(), c)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	var (
		sources []domain.CalendarSource
		err     error
	)
	if childID := r.URL.Query().Get("child_id"); childID != "" {
		sources, err = s.store.SourcesByChild(r.Context(), childID)
	} else {
		sources, err = s.store.ListSources(r.Context())
	}
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleUpsertSource(w http.ResponseWriter, r *http.Request) {
	var src domain.CalendarSource
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := s.store.UpsertSource(r.Context(), src)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUpstream):
		writeErr(w, http.StatusBadGateway, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
