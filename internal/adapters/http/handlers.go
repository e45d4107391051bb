package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/toolvault/download-gateway/internal/application"
	"github.com/toolvault/download-gateway/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ready")
}

type requestDownloadBody struct {
	Action string `json:"action"`
	ToolID string `json:"tool_id"`
}

// requestDownload is phase one. Validation failures are reported in-band as
// {success:false, message} with a 200 status; the front-end dispatches on
// the message, not the status code.
func (h *Handler) requestDownload(w http.ResponseWriter, r *http.Request) {
	var body requestDownloadBody
	if err := decodeBody(r, &body); err != nil || body.Action != "request_download" {
		writePlain(w, http.StatusBadRequest, "invalid request")
		return
	}

	sessionID, ok := sessionIDFromContext(r.Context())
	if !ok {
		writeDenied(w, "session unavailable")
		return
	}

	grant, err := h.service.RequestDownload(r.Context(), sessionID, body.ToolID)
	if err != nil {
		writeDenied(w, phaseOneMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   grant.Token,
		"expires": grant.ExpiresIn,
	})
}

// fetch is phase two: redeem the token and stream the file. Once the
// headers are written a failure can no longer change the status code; the
// connection is simply terminated and the outcome lives in the logs.
func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	toolID := r.URL.Query().Get("tool_id")
	if token == "" || toolID == "" {
		writePlain(w, http.StatusBadRequest, "invalid request")
		return
	}

	sessionID, ok := sessionIDFromContext(r.Context())
	if !ok {
		writePlain(w, http.StatusForbidden, "download link expired or invalid")
		return
	}

	transfer, err := h.service.Fetch(r.Context(), application.FetchRequest{
		SessionID: sessionID,
		Token:     token,
		ToolID:    toolID,
		IPAddress: readIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		status, msg := fetchErrorResponse(err)
		writePlain(w, status, msg)
		return
	}
	defer transfer.Abort(r.Context())

	w.Header().Set("X-File-Hash", transfer.Digest)
	w.Header().Set("Content-Type", transfer.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transfer.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(transfer.Size, 10))
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Stream settles the slot and the audit record on every path; the
	// deferred Abort is a no-op once it has run.
	_ = transfer.Stream(r.Context(), w)
}

// phaseOneMessage renders the in-band failure message for token requests.
// Rate-limit rejections surface the remaining wait so the client can show a
// countdown.
func phaseOneMessage(err error) string {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("please wait %d seconds before trying again", rl.RetrySeconds())
	case errors.Is(err, domain.ErrNotFound):
		return "invalid tool id"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid request method"
	case errors.Is(err, domain.ErrUnavailable):
		return "service unavailable, please try again later"
	default:
		return "download request failed"
	}
}

// fetchErrorResponse maps phase-two errors to the documented status codes.
// Detail stays server-side; bodies are deliberately generic.
func fetchErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenMismatch),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusForbidden, "download link expired or invalid"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "tool or file not found"
	case errors.Is(err, domain.ErrTooBusy):
		return http.StatusTooManyRequests, "server busy, please try again later"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, domain.ErrUnreadable):
		return http.StatusInternalServerError, "unable to read file"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	return json.NewDecoder(r.Body).Decode(dst)
}

// readIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer. The gateway sits behind the site's reverse proxy in production.
func readIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
