// Package httpapi exposes the session and check-in flows over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"academyportal/internal/checkin"
	"academyportal/internal/httpmiddleware"
	"academyportal/internal/member"
	"academyportal/internal/session"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the handlers need.
type Deps struct {
	Sessions  *session.Store
	Checkin   *checkin.Service
	Directory member.Directory
	Cookie    CookieConfig

	// Optional.
	Limiter     httpmiddleware.Limiter
	CORSOrigins []string
	Health      map[string]HealthCheck
	Production  bool
}

// Server holds the handlers. It has no mutable state of its own.
type Server struct {
	sessions *session.Store
	checkin  *checkin.Service
	dir      member.Directory
	cookie   CookieConfig
	health   map[string]HealthCheck
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(d Deps) *gin.Engine {
	s := &Server{
		sessions: d.Sessions,
		checkin:  d.Checkin,
		dir:      d.Directory,
		cookie:   d.Cookie,
		health:   d.Health,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.Trace())
	r.Use(httpmiddleware.Logger("/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	if cfg, ok := corsConfig(d.CORSOrigins, d.Production); ok {
		r.Use(cors.New(cfg))
	}
	r.Use(httpmiddleware.SecurityHeaders(d.Production))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	if d.Limiter != nil {
		api.Use(httpmiddleware.RateLimit(d.Limiter))
	}
	api.POST("/auth/login", s.login)

	authed := api.Group("", s.authenticate())
	authed.POST("/auth/logout", s.logout)
	authed.GET("/auth/me", s.me)

	att := authed.Group("/attendance")
	att.GET("/checkin-token", s.issueToken)
	att.POST("/checkin", s.redeem)
	att.POST("/roll-call", s.rollCall)
	att.GET("/occurrence", s.occurrence)
	att.DELETE("/:id", s.removeAttendance)

	return r
}

// corsConfig reports false when no origin is allowed. A "*" entry echoes
// the caller's origin with credentials, so it is dropped in production.
func corsConfig(origins []string, production bool) (cors.Config, bool) {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", httpmiddleware.TraceHeader},
		ExposeHeaders:    []string{httpmiddleware.TraceHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	var allowed []string
	for _, o := range origins {
		if o != "*" {
			allowed = append(allowed, o)
			continue
		}
		if production {
			log.Error().Msg("ignoring wildcard CORS origin in production")
			continue
		}
		log.Warn().Msg("wildcard CORS origin accepts credentialed requests from any site")
		cfg.AllowOriginFunc = func(string) bool { return true }
		return cfg, true
	}
	if len(allowed) == 0 {
		return cfg, false
	}
	cfg.AllowOrigins = allowed
	return cfg, true
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
