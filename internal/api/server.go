package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stylingadventures/closetd/internal/approval"
	"github.com/stylingadventures/closetd/internal/auth/cognito"
	"github.com/stylingadventures/closetd/internal/auth/loginstate"
	"github.com/stylingadventures/closetd/internal/auth/session"
	"github.com/stylingadventures/closetd/internal/config"
	"github.com/stylingadventures/closetd/internal/logging"
	"github.com/stylingadventures/closetd/internal/roles"
	"github.com/stylingadventures/closetd/internal/store"
)

const (
	attemptCookie = "closet_attempt"
	sessionCookie = "closet_session"

	// attemptTTL bounds how long a minted login URL stays redeemable.
	attemptTTL = 10 * time.Minute

	putURLExpiry = time.Hour
	getURLExpiry = 5 * time.Minute
)

// ObjectAPI is the slice of the bucket the handlers use.
type ObjectAPI interface {
	List(ctx context.Context, prefix, startAfter string, max int) (*store.ListResult, error)
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// ThumbAPI probes thumbnail readiness.
type ThumbAPI interface {
	Ready(ctx context.Context, srcKey string) (bool, error)
}

// Enqueuer publishes a thumbnail job for an upload key.
type Enqueuer func(ctx context.Context, key string) error

// Server holds the wired dependencies behind the HTTP surface.
type Server struct {
	cfg *atomic.Pointer[config.Config]

	auth        *cognito.Service
	attempts    loginstate.Store
	sessions    *session.Manager
	roleStore   RoleStore
	objects     ObjectAPI
	thumbs      ThumbAPI
	coordinator *approval.Coordinator
	enqueue     Enqueuer
	verifier    TokenVerifier

	upgrader websocket.Upgrader
	metrics  http.Handler
}

// RoleStore is the profile store slice the handlers use.
type RoleStore interface {
	EnsureProfile(ctx context.Context, sub, email string) (*roles.Profile, error)
	SetRole(ctx context.Context, input roles.SetRoleInput) (*roles.Profile, error)
}

// Deps carries everything NewServer wires together.
type Deps struct {
	Config      *atomic.Pointer[config.Config]
	Auth        *cognito.Service
	Attempts    loginstate.Store
	Sessions    *session.Manager
	Roles       RoleStore
	Objects     ObjectAPI
	Thumbs      ThumbAPI
	Coordinator *approval.Coordinator
	Enqueue     Enqueuer
	Verifier    TokenVerifier
	Metrics     http.Handler
}

// NewServer builds the server around its dependencies.
func NewServer(deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s := &Server{
		cfg:         deps.Config,
		auth:        deps.Auth,
		attempts:    deps.Attempts,
		sessions:    deps.Sessions,
		roleStore:   deps.Roles,
		objects:     deps.Objects,
		thumbs:      deps.Thumbs,
		coordinator: deps.Coordinator,
		enqueue:     deps.Enqueue,
		verifier:    deps.Verifier,
		metrics:     metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, s.config().AllowedOrigins)
		},
	}
	return s
}

func (s *Server) config() *config.Config {
	return s.cfg.Load()
}

// Router assembles the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(logging.GinLogrusLogger())
	engine.Use(CORS(func() []string { return s.config().AllowedOrigins }))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(s.metrics))

	engine.GET("/auth/login", s.handleLogin)
	engine.GET("/auth/callback", s.handleCallback)
	engine.POST("/auth/refresh", s.handleRefresh)
	engine.POST("/auth/logout", s.handleLogout)
	engine.POST("/oauth/token-exchange", s.handleTokenExchange)

	// Workflow engine callback; reachable only on the internal network.
	engine.POST("/internal/approvals", s.handleSaveApproval)

	authed := engine.Group("/", AuthRequired(s.verifier))
	{
		authed.GET("/list", s.handleList)
		authed.POST("/presign", s.handlePresign)
		authed.DELETE("/delete", s.handleDelete)
		authed.GET("/thumb-head", s.handleThumbHead)
		authed.HEAD("/thumb-head", s.handleThumbHead)
		authed.GET("/thumb-watch", s.handleThumbWatch)
		authed.POST("/uploads/complete", s.handleUploadComplete)
		authed.GET("/me", s.handleMe)
		authed.POST("/admin/roles", s.handleSetRole)

		admin := authed.Group("/admin", AdminRequired())
		admin.POST("/approvals/resolve", s.handleResolveApproval)
	}

	return engine
}
