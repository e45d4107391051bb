package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolvault/download-gateway/internal/application"
	"github.com/toolvault/download-gateway/internal/ports"
)

// Handler is the HTTP adapter entrypoint for the download gateway.
// Keeping only application dependencies here preserves clean adapter boundaries.
type Handler struct {
	service       *application.Service
	signer        ports.SessionSigner
	sessionTTL    time.Duration
	secureCookies bool
}

// NewHandler constructs an HTTP handler bound to the application service.
// Session cookies are signed with the provided signer and renewed when
// absent or invalid.
func NewHandler(service *application.Service, signer ports.SessionSigner, sessionTTL time.Duration, secureCookies bool) *Handler {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Handler{
		service:       service,
		signer:        signer,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
	}
}

// NewRouter registers gateway routes and the middleware stack. The two
// download phases share one path and are method-dispatched; anything else
// on that path is a 400 by contract. A nil metrics handler skips /metrics.
func NewRouter(handler *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	badRequest := func(w http.ResponseWriter, _ *http.Request) {
		writePlain(w, http.StatusBadRequest, "invalid request")
	}
	r.Route("/download", func(r chi.Router) {
		r.Use(handler.sessionMiddleware)
		r.Post("/", handler.requestDownload)
		r.Get("/", handler.fetch)
		r.MethodNotAllowed(badRequest)
	})
	r.MethodNotAllowed(badRequest)

	return r
}
