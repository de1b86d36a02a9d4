package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/navyas1307/Auction-System/internal/auth"
	"github.com/navyas1307/Auction-System/internal/model"
)

type ctxKey int

const bidderKey ctxKey = 0

// bidderFrom returns the authenticated identity, if any.
func bidderFrom(ctx context.Context) (model.Bidder, bool) {
	b, ok := ctx.Value(bidderKey).(model.Bidder)
	return b, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// requireAuth rejects requests without a verifiable identity.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		bidder, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			if err == auth.ErrInvalidToken {
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			h.log.Warn("auth provider error", "error", err)
			respondError(w, http.StatusServiceUnavailable, "Authentication unavailable")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), bidderKey, bidder)))
	}
}

// optionalAuth attaches an identity when a valid token is present, and
// passes the request through untouched otherwise.
func (h *Handler) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			if bidder, err := h.verifier.Verify(r.Context(), token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), bidderKey, bidder))
			}
		}
		next(w, r)
	}
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
