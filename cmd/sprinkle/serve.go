package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type server struct {
	host     *host
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// reply is sent for every websocket message.
type reply struct {
	ID    string `json:"id"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

func newServer(h *host, logger *zap.Logger) *server {
	return &server{
		host:   h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *server) routes(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.page)
	r.Post("/dispatch", s.dispatch)
	r.Get("/ws", s.ws)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func (s *server) page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.host.render(w); err != nil {
		s.logger.Error("render", zap.Error(err))
	}
}

// dispatch fires the event named by the form values event, target and
// value, then answers with the updated document.
func (s *server) dispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := action{
		Event:  r.PostForm.Get("event"),
		Target: strings.TrimPrefix(r.PostForm.Get("target"), "#"),
	}
	if r.PostForm.Has("value") {
		a.Value = parseValue(r.PostForm.Get("value"))
	}
	if a.Event == "" || a.Target == "" {
		http.Error(w, "event and target are required", http.StatusBadRequest)
		return
	}
	if err := s.host.dispatch(a); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.page(w, r)
}

func (s *server) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	logger := s.logger.With(zap.String("conn", id))
	logger.Debug("websocket connected")
	defer logger.Debug("websocket closed")

	for {
		var a action
		if err := conn.ReadJSON(&a); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read", zap.Error(err))
			}
			return
		}

		msg := reply{ID: id}
		if err := s.host.dispatch(a); err != nil {
			msg.Error = err.Error()
		} else {
			var sb strings.Builder
			if err := s.host.render(&sb); err != nil {
				msg.Error = err.Error()
			}
			msg.HTML = sb.String()
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("write", zap.Error(err))
			return
		}
	}
}

// listen serves until ctx is done, then shuts down gracefully.
func listen(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
