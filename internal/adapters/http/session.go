package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "dl_session"

// sessionMiddleware gives every client an opaque, server-assigned session.
// The cookie value is a signed claim over a session UUID, so session
// continuity survives across the two download phases without any
// server-side session storage. Absent or tampered cookies get a fresh
// session rather than an error.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID uuid.UUID

		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			if parsed, parseErr := h.signer.Parse(cookie.Value); parseErr == nil {
				sessionID = parsed
			}
		}

		if sessionID == uuid.Nil {
			sessionID = uuid.New()
			now := time.Now().UTC()
			signed, err := h.signer.Sign(sessionID, now, now.Add(h.sessionTTL))
			if err != nil {
				httpLogger().ErrorContext(r.Context(), "session cookie signing failed",
					"operation", "session_issue",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"error", err,
				)
				writePlain(w, http.StatusInternalServerError, "internal server error")
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    signed,
				Path:     "/",
				MaxAge:   int(h.sessionTTL.Seconds()),
				HttpOnly: true,
				Secure:   h.secureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), ctxKeySessionID, sessionID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
