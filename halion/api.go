package halion

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck     = "/health"
	apiPathOnboarding  = "/api/onboarding"
	apiPathCooldowns   = "/api/cooldowns"
	apiPathBotStatus   = "/api/status"
	apiShutdownTimeout = 5 * time.Second
)

// API is the read-only operational status server: what the bot is doing
// right now, without touching discord.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	bot        *Halion
}

func newAPI(h *Halion, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, fmt.Errorf("nil api config")
	}

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	r := gin.New()
	r.Use(gin.Recovery(), apiLoggingMiddleware(logger))

	corsConfig := config.CORS.GINConfig()
	if config.Development {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	if len(corsConfig.AllowOrigins) > 0 || corsConfig.AllowAllOrigins {
		r.Use(cors.New(corsConfig))
	}

	api := &API{
		config: config,
		engine: r,
		logger: logger,
		bot:    h,
		httpServer: &http.Server{
			Handler:           r,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
	}

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathBotStatus, api.botStatus)
	r.GET(apiPathOnboarding, api.activeOnboarding)
	r.GET(apiPathCooldowns, api.activeCooldowns)

	return api, nil
}

// Serve listens and serves until the listener is closed.
func (a *API) Serve(ctx context.Context) error {
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.config.Listen, err)
	}
	a.listener = ln
	a.logger.Info("api listening", "address", a.config.Listen)
	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, apiShutdownTimeout)
	defer cancel()
	return a.httpServer.Shutdown(shutdownCtx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) botStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"connected":          a.bot.discord.connected.Load(),
			"gateway_connects":   a.bot.discord.metricConnects.Load(),
			"active_onboardings": len(a.bot.onboarding.Active()),
		},
	)
}

func (a *API) activeOnboarding(c *gin.Context) {
	sessions := a.bot.onboarding.Active()
	if sessions == nil {
		sessions = []ActiveSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (a *API) activeCooldowns(c *gin.Context) {
	cooldowns := a.bot.cooldowns.Active()
	if cooldowns == nil {
		cooldowns = []ActiveCooldown{}
	}
	c.JSON(http.StatusOK, gin.H{"cooldowns": cooldowns})
}

// apiLoggingMiddleware logs each request with method, path, status and
// duration.
func apiLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			),
		)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				"status_code", c.Writer.Status(),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				"status_code", c.Writer.Status(),
			)
		}
	}
}
