package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/parley/internal/adapters/signal"
	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/config"
	"github.com/dkeye/parley/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName   = "ParleySessions"
	sessionToken  = "token"
	credentialKey = "credential"
	healthTimeout = 2 * time.Second
)

// HealthChecker is implemented by the external services the server depends on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Deps struct {
	Auth     *app.Authenticator
	Signal   *signal.SignalWSController
	Registry *app.Registry
	Health   map[string]HealthChecker
}

// CredentialMiddleware finds the bearer credential in the Authorization header, the
// token query parameter or the cookie session, in that order.
func CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			if v, ok := sessions.Default(c).Get(sessionToken).(string); ok {
				token = v
			}
		}
		c.Set(credentialKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Server.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Server.Secret
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(CredentialMiddleware())

	r.GET("/healthz", healthHandler(deps))

	api := r.Group("/api")

	// Browser clients park their token in the session cookie once instead of
	// putting it in the websocket URL.
	api.POST("/session", func(c *gin.Context) {
		id, err := deps.Auth.Authenticate(c.Request.Context(), c.GetString(credentialKey))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": domain.PublicMessage(err)})
			return
		}
		s := sessions.Default(c)
		s.Set(sessionToken, c.GetString(credentialKey))
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id.UserID})
	})
	api.DELETE("/session", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		_ = s.Save()
		c.Status(http.StatusNoContent)
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		id, err := deps.Auth.Authenticate(c.Request.Context(), c.GetString(credentialKey))
		if err != nil {
			log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": domain.PublicMessage(err)})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", string(id.UserID)).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c, id)
	})

	log.Info().Str("module", "adapters.http").Int("health_checks", len(deps.Health)).Msg("router setup")
	return r
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps.Health))
		healthy := true
		for name, hc := range deps.Health {
			if err := hc.HealthCheck(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				if !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Str("module", "adapters.http").Str("check", name).Msg("health check failed")
				}
				continue
			}
			checks[name] = "ok"
		}

		body := gin.H{"status": "ok", "checks": checks}
		if deps.Registry != nil {
			body["online"] = deps.Registry.Count()
		}
		if !healthy {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}
