package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/auth"
	"github.com/SirClappington/jobbid/internal/domain"
)

type principalKey struct{}

// PrincipalFrom returns the principal the Authenticate middleware stored.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// Authenticate resolves the bearer token on every request and refuses
// the request with 401 when that fails.
func Authenticate(resolver auth.Resolver, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolver.Resolve(r.Context(), auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				if domain.KindOf(err) != domain.KindAuthentication {
					log.Error("identity lookup failed", zap.Error(err))
				}
				writeError(w, log, domain.Errorf(domain.KindAuthentication, "authentication required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

// requestLogger writes one structured line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// NewRouter mounts the request-facing API and, when ws is not nil, the
// websocket gateway at /v1/ws. The gateway authenticates on its own.
func NewRouter(h *Handler, resolver auth.Resolver, ws http.Handler, log *zap.Logger) http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(requestLogger(log))
	rtr.Use(middleware.Recoverer)

	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if ws != nil {
		rtr.Method(http.MethodGet, "/v1/ws", ws)
	}

	rtr.Group(func(r chi.Router) {
		r.Use(Authenticate(resolver, log))
		r.Post("/v1/jobs", h.CreateJob)
		r.Get("/v1/jobs", h.ListNearby)
		r.Get("/v1/jobs/{id}", h.GetJob)
		r.Post("/v1/jobs/{id}/bids", h.SubmitBid)
		r.Patch("/v1/jobs/{id}/bids/{bidId}/accept", h.AcceptBid)
		r.Post("/v1/jobs/{id}/bids/{bidId}/accept", h.AcceptBid)
		r.Post("/v1/jobs/{id}/complete", h.CompleteJob)
	})
	return rtr
}
