package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/controller"
	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
	"github.com/nstogner/studio/pkg/generate"
)

// UserHeader carries the id of the acting user.
const UserHeader = "X-User-Id"

// Server serves the web UI and REST API for the studio.
type Server struct {
	ctrl   *controller.Controller
	static fs.FS
	srv    *http.Server
}

// New creates a new Server. static may be nil when no UI bundle is served;
// otherwise it must hold index.html at its root.
func New(ctrl *controller.Controller, static fs.FS) *Server {
	return &Server{ctrl: ctrl, static: static}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.userMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/gallery", func(r chi.Router) {
			r.Get("/", s.handleGetGallery)
			r.Get("/folders", s.handleFolderTree)
			r.Post("/folders", s.handleCreateFolder)
			r.Post("/uploads", s.handleUpload)
			r.Get("/items/{id}", s.handleGetItem)
			r.Put("/items/{id}", s.handleRenameItem)
			r.Post("/delete", s.handleDeleteItems)
			r.Post("/move", s.handleMoveItems)
		})

		r.Get("/models", s.handleListModels)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/connectors", s.handleListConnectors)
		r.Put("/connectors/{id}", s.handleSetConnector)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetHistory)
			r.Delete("/", s.handleClearConversation)
			r.Get("/chat", s.handleChatWebSocket)
		})

		r.Post("/generate/images", s.handleGenerateImages)
		r.Post("/generate/project", s.handleGenerateProject)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)
			r.Get("/keys", s.handleListAPIKeys)
			r.Post("/keys", s.handleAddAPIKey)
			r.Delete("/keys/{id}", s.handleDeleteAPIKey)
			r.Post("/models", s.handleAddModel)
			r.Delete("/models/{id}", s.handleDeleteModel)
			r.Get("/logs", s.handleListLogs)
			r.Get("/snapshot", s.handleExportSnapshot)
			r.Put("/snapshot", s.handleRestoreSnapshot)
		})
	})

	if s.static != nil {
		r.Get("/*", s.handleStatic)
	}
	return r
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	// Try serving the exact file.
	if f, err := s.static.Open(path); err == nil {
		stat, err := f.Stat()
		f.Close()
		if err == nil && !stat.IsDir() {
			http.FileServer(http.FS(s.static)).ServeHTTP(w, r)
			return
		}
	}

	// Fallback to index.html for SPA routing.
	index, err := fs.ReadFile(s.static, "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(index)
}

func (s *Server) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			id = r.URL.Query().Get("user")
		}
		if id != "" {
			r = r.WithContext(controller.WithUser(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := controller.UserFrom(r.Context())
		for _, u := range s.ctrl.Users() {
			if u.ID == id && u.Role == domain.UserRoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
		}
		errorResponse(w, http.StatusForbidden, errors.New("admin role required"))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"requestID", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API Error", "status", status, "error", err)
	} else {
		slog.Debug("API Error", "status", status, "error", err)
	}
	jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var transport *chat.TransportError
	switch {
	case errors.Is(err, gallery.ErrNotFound), errors.Is(err, controller.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gallery.ErrDuplicateID), errors.Is(err, controller.ErrConflict), errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, gallery.ErrNotFolder), errors.Is(err, gallery.ErrCyclicMove),
		errors.Is(err, gallery.ErrRootImmutable), errors.Is(err, gallery.ErrInvalidItem),
		errors.Is(err, controller.ErrInvalid), errors.Is(err, chat.ErrMissingCredential),
		errors.Is(err, chat.ErrUnsupportedProvider), errors.Is(err, chat.ErrUnsupported):
		return http.StatusBadRequest
	case errors.As(err, &transport), errors.Is(err, generate.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		return errors.Join(controller.ErrInvalid, err)
	}
	return nil
}

const (
	maxJSONBody   = 32 << 20
	maxUploadBody = 64 << 20
)
