package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/httputil"
	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/source"
	"github.com/xeptore/tgmd/task"
)

const sourceKeyPrefix = "web:"

// Registry is the part of the task registry exposed by the console.
type Registry interface {
	Create(kind task.Kind, payload task.Payload, sourceKey string) task.Record
	FindActiveBySourceKey(key string) (task.Record, bool)
	Get(id string) (task.Record, error)
	List() []task.Record
	Cancel(id, reason string) (task.Record, error)
	Subscribe() *task.Subscription
}

type Options struct {
	ListenAddr        string
	KeepaliveInterval time.Duration
}

type Server struct {
	registry  Registry
	opts      Options
	logger    zerolog.Logger
	createMux sync.Mutex
	handler   http.Handler
}

func NewServer(registry Registry, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		registry:  registry,
		opts:      opts,
		logger:    logger,
		createMux: sync.Mutex{},
		handler:   nil,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("GET /api/tasks/stream", s.stream)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)
	s.handler = s.recoverer(s.requestLogger(mux))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves the console until ctx is done, then shuts the listener down within the grace period.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	//nolint:exhaustruct
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen_addr", s.opts.ListenAddr).Msg("Web console is listening")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); nil != err {
		s.logger.Warn().Err(err).Msg("Web console did not shut down gracefully")
		_ = srv.Close()
	}
	if err := <-errs; nil != err && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, s.registry.List())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(r.PathValue("id"))
	if nil != err {
		s.writeTaskError(w, err)
		return
	}
	s.write(w, http.StatusOK, rec)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadRequestBody(r.Context(), r)
	if nil != err {
		switch {
		case errutil.IsContext(r.Context()):
			return
		case errutil.IsFlaw(err):
			s.logger.Error().Func(log.Flaw(err)).Msg("Failed to read create task request body")
			s.writeError(w, http.StatusInternalServerError, "internal", "failed to read request body")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		}
		return
	}

	if !gjson.ValidBytes(body) {
		s.writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	linkField := gjson.GetBytes(body, "link")
	if linkField.Type != gjson.String || strings.TrimSpace(linkField.String()) == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_body", `"link" must be a non-empty string`)
		return
	}
	link := strings.TrimSpace(linkField.String())

	if _, err := source.ParseLink(link); nil != err {
		s.writeError(w, http.StatusBadRequest, "invalid_link", err.Error())
		return
	}

	s.createMux.Lock()
	key := sourceKeyPrefix + link
	if existing, ok := s.registry.FindActiveBySourceKey(key); ok {
		s.createMux.Unlock()
		s.write(w, http.StatusOK, existing)
		return
	}
	rec := s.registry.Create(task.KindLinkDownload, task.Payload{Link: link, Message: nil}, key)
	s.createMux.Unlock()

	s.logger.Info().Str("task_id", rec.ID).Str("link", link).Msg("Task created from web console")
	s.write(w, http.StatusCreated, rec)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Cancel(r.PathValue("id"), "canceled from web console")
	if nil != err {
		s.writeTaskError(w, err)
		return
	}
	s.write(w, http.StatusOK, rec)
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, task.ErrAlreadyFinished):
		s.writeError(w, http.StatusConflict, "already_finished", err.Error())
	default:
		s.logger.Error().Func(log.Flaw(err)).Msg("Unexpected task registry error")
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) write(w http.ResponseWriter, status int, v any) {
	if err := httputil.WriteJSON(w, status, v); nil != err {
		s.logger.Error().Func(log.Flaw(err)).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := httputil.WriteError(w, status, code, message); nil != err {
		s.logger.Error().Func(log.Flaw(err)).Msg("Failed to write error response")
	}
}
