// Package api exposes the Radle service over HTTP using the chi router.
// Routes are versioned under /api/v1; Prometheus metrics are served at
// /metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	radle "github.com/radle-project/radle-go"
	"github.com/radle-project/radle-go/internal/metrics"
	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/types"
)

// EditorHeader marks the request as coming from a viewer with edit rights.
// Hidden comments are removed entirely for requests without it. The server
// sits behind the blog backend, which enforces the actual capability check.
const EditorHeader = "X-Radle-Editor"

type contextKey string

const requestIDKey contextKey = "request_id"

// Router wires the HTTP surface around a Service.
type Router struct {
	svc    *radle.Service
	logger *slog.Logger
}

// NewRouter builds the chi handler for a service.
func NewRouter(svc *radle.Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	router := &Router{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.observe)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", router.health)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/url", router.authURL)
			r.Get("/callback", router.authCallback)
			r.Get("/status", router.authStatus)
			r.Post("/reset", router.authReset)
		})

		r.Route("/posts/{postID}", func(r chi.Router) {
			r.Get("/comments", router.comments)
			r.Post("/hidden", router.toggleHidden)
			r.Get("/hidden", router.hiddenIDs)
			r.Get("/association", router.association)
			r.Put("/association", router.link)
			r.Delete("/association", router.unlink)
		})

		r.Route("/rate-limit", func(r chi.Router) {
			r.Get("/", router.rateLimitData)
			r.Delete("/", router.rateLimitDelete)
		})

		r.Post("/publish", router.publish)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// requestID assigns each request a UUID, exposed via X-Request-ID and the
// request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// observe records request metrics and a structured access log line.
func (router *Router) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		routePath := chi.RouteContext(r.Context()).RoutePattern()
		if routePath == "" {
			routePath = r.URL.Path
		}
		metrics.RecordHTTPRequest(r.Method, routePath, ww.Status(), elapsed)
		router.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", r.Context().Value(requestIDKey),
		)
	})
}

func (router *Router) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (router *Router) authURL(w http.ResponseWriter, r *http.Request) {
	authURL, err := router.svc.BuildAuthorizationURL("")
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

func (router *Router) authCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if err := router.svc.HandleCallback(r.Context(), code, state); err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (router *Router) authStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"connected": router.svc.IsConnected(r.Context())})
}

func (router *Router) authReset(w http.ResponseWriter, r *http.Request) {
	if err := router.svc.ResetAuth(); err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (router *Router) comments(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	sortMode := types.ParseSort(r.URL.Query().Get("sort"))
	canEdit := r.Header.Get(EditorHeader) != ""

	result, err := router.svc.Comments(r.Context(), postID, sortMode, canEdit)
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (router *Router) toggleHidden(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(EditorHeader) == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "editor capability required"})
		return
	}

	var body struct {
		CommentID string `json:"comment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := router.svc.ToggleHidden(chi.URLParam(r, "postID"), body.CommentID)
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (router *Router) hiddenIDs(w http.ResponseWriter, r *http.Request) {
	ids := router.svc.HiddenIDs(chi.URLParam(r, "postID"))
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"hidden_ids": ids})
}

func (router *Router) association(w http.ResponseWriter, r *http.Request) {
	threadID, err := router.svc.Association(chi.URLParam(r, "postID"))
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thread_id": threadID})
}

func (router *Router) link(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := router.svc.LinkPost(chi.URLParam(r, "postID"), body.ThreadID); err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thread_id": body.ThreadID})
}

func (router *Router) unlink(w http.ResponseWriter, r *http.Request) {
	if err := router.svc.UnlinkPost(chi.URLParam(r, "postID")); err != nil {
		router.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) rateLimitData(w http.ResponseWriter, r *http.Request) {
	period := types.ParsePeriod(r.URL.Query().Get("period"))
	buckets, err := router.svc.RateLimitData(period)
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "buckets": buckets})
}

func (router *Router) rateLimitDelete(w http.ResponseWriter, r *http.Request) {
	if err := router.svc.DeleteRateLimitData(); err != nil {
		router.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) publish(w http.ResponseWriter, r *http.Request) {
	var req types.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := router.svc.Publish(r.Context(), req)
	if err != nil {
		router.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// writeError maps the error taxonomy to HTTP status codes.
func (router *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var inputErr *pkgerrs.InputError
	var authErr *pkgerrs.AuthError
	var apiErr *pkgerrs.APIError
	switch {
	case errors.As(err, &inputErr):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		switch authErr.Code {
		case pkgerrs.CodeMissingParameters, pkgerrs.CodeInvalidState:
			status = http.StatusBadRequest
		default:
			status = http.StatusUnauthorized
		}
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	router.logger.Error("request failed",
		"path", r.URL.Path,
		"status", status,
		"error", err,
		"request_id", r.Context().Value(requestIDKey),
	)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
