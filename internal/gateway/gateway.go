// Package gateway serves the persistent, message-based transport. A
// connection authenticates once, before the websocket upgrade; the
// resulting principal is bound to the session and passed explicitly to
// every engine call made on the connection's behalf.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/auth"
	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/hub"
)

type Engine interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	SubmitBid(ctx context.Context, artisan domain.Principal, jobID string, amount float64) (*domain.Bid, error)
	AcceptBid(ctx context.Context, client domain.Principal, jobID, bidID string) (*domain.Job, error)
}

type Options struct {
	// PongWait is how long the connection may stay silent before it is
	// considered dead. Pings go out at 9/10 of it.
	PongWait       time.Duration
	WriteWait      time.Duration
	RequestTimeout time.Duration
	ReadLimit      int64
	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) defaults() {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
}

type Gateway struct {
	resolver auth.Resolver
	engine   Engine
	hub      *hub.Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
	opts     Options
}

func New(resolver auth.Resolver, engine Engine, h *hub.Hub, log *zap.Logger, opts Options) *Gateway {
	opts.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		resolver: resolver,
		engine:   engine,
		hub:      h,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts: opts,
	}
}

// Authenticate resolves a raw credential to the principal a connection
// will act as.
func (g *Gateway) Authenticate(ctx context.Context, rawToken string) (domain.Principal, error) {
	p, err := g.resolver.Resolve(ctx, rawToken)
	if err != nil {
		if domain.KindOf(err) != domain.KindAuthentication {
			g.log.Error("identity lookup failed", zap.Error(err))
		}
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "authentication failed")
	}
	return p, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	principal, err := g.Authenticate(r.Context(), token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(err)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		gw:        g,
		principal: principal,
		ws:        ws,
		conn:      g.hub.Connect(),
		replies:   make(chan serverFrame, 16),
		writerOut: make(chan struct{}),
		log:       g.log.With(zap.String("principal", principal.ID), zap.String("role", string(principal.Role))),
	}
	s.log.Debug("session opened")
	go s.writeLoop()
	s.readLoop()
}
