// Package api wires together all HTTP routes for the fraud rule governance
// service.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated so orchestrators and
//     load balancers can probe the service without credentials.
//   - Everything under /v1/ goes through the full middleware chain including
//     authentication; each route additionally declares the permission it
//     requires. Reads and writes carry separate permissions per entity family
//     so checker accounts can be scoped to approvals only.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/api/approvals"
	"github.com/fraud-governance/fraud-governance/internal/api/audit"
	"github.com/fraud-governance/fraud-governance/internal/api/fields"
	"github.com/fraud-governance/fraud-governance/internal/api/manifests"
	"github.com/fraud-governance/fraud-governance/internal/api/rules"
	"github.com/fraud-governance/fraud-governance/internal/api/rulesets"
	"github.com/fraud-governance/fraud-governance/internal/approval"
	"github.com/fraud-governance/fraud-governance/internal/auth"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
	"github.com/fraud-governance/fraud-governance/internal/compiler"
	"github.com/fraud-governance/fraud-governance/internal/config"
	"github.com/fraud-governance/fraud-governance/internal/middleware"
	"github.com/fraud-governance/fraud-governance/internal/notify"
	"github.com/fraud-governance/fraud-governance/internal/publisher"
	"github.com/fraud-governance/fraud-governance/internal/services"
	"github.com/fraud-governance/fraud-governance/internal/storage"

	// Import storage backends to register them
	_ "github.com/fraud-governance/fraud-governance/internal/storage/filesystem"
	_ "github.com/fraud-governance/fraud-governance/internal/storage/s3"
)

// Version is the service version reported by /version. Overridden at build
// time via -ldflags.
var Version = "0.1.0"

// NewRouter creates and configures the Gin router with all governance routes.
func NewRouter(cfg *config.Config, db *sqlx.DB, logger *slog.Logger) (*gin.Engine, error) {
	router := gin.New()

	store, err := storage.NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("initialized storage backend", slog.String("backend", cfg.Storage.Backend))

	// Domain services
	cat := catalog.NewService(db, logger)
	comp := compiler.New(db, cat, logger)
	pub := publisher.New(db, comp, store,
		cfg.Storage.ArtifactPrefix, cfg.Publish.MaxRetries, cfg.Publish.RetryBaseDelay, logger)
	registry := catalog.NewRegistryPublisher(cat, store,
		cfg.Storage.ArtifactPrefix, cfg.Publish.MaxRetries, cfg.Publish.RetryBaseDelay, logger)
	notifier := notify.NewDispatcher(notify.NewLogNotifier(logger))
	engine := approval.NewEngine(db, comp, pub, cat, notifier, logger)
	ruleSvc := services.NewRuleService(db, cat, logger)
	rulesetSvc := services.NewRulesetService(db, logger)

	// Handlers
	ruleHandlers := rules.NewHandlers(ruleSvc)
	rulesetHandlers := rulesets.NewHandlers(rulesetSvc, comp, pub)
	fieldHandlers := fields.NewHandlers(cat, registry)
	approvalHandlers := approvals.NewHandlers(engine, db)
	auditHandlers := audit.NewHandlers(db)
	manifestHandlers := manifests.NewHandlers(db)

	// Token verification is only constructed when enabled so a missing secret
	// does not break gateway-authenticated deployments.
	var verifier *auth.Verifier
	if cfg.Auth.JWT.Enabled {
		verifier, err = auth.NewVerifier(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer)
		if err != nil {
			return nil, err
		}
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, store))
	router.GET("/version", versionHandler())

	v1 := router.Group("/v1")
	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Security.RateLimiting, logger)
		v1.Use(limiter.Middleware())
	}
	v1.Use(middleware.Auth(cfg.Auth.JWT, verifier))
	{
		rulesGroup := v1.Group("/rules")
		{
			rulesGroup.GET("", middleware.RequirePermission(auth.PermRulesRead), ruleHandlers.List)
			rulesGroup.POST("", middleware.RequirePermission(auth.PermRulesWrite), ruleHandlers.Create)
			rulesGroup.GET("/:id", middleware.RequirePermission(auth.PermRulesRead), ruleHandlers.Get)
			rulesGroup.GET("/:id/versions", middleware.RequirePermission(auth.PermRulesRead), ruleHandlers.ListVersions)
			rulesGroup.POST("/:id/versions", middleware.RequirePermission(auth.PermRulesWrite), ruleHandlers.CreateVersion)
			rulesGroup.GET("/versions/:versionId", middleware.RequirePermission(auth.PermRulesRead), ruleHandlers.GetVersion)
		}

		rulesetsGroup := v1.Group("/rulesets")
		{
			rulesetsGroup.GET("", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.List)
			rulesetsGroup.POST("", middleware.RequirePermission(auth.PermRulesetsWrite), rulesetHandlers.Create)
			rulesetsGroup.GET("/:id", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.Get)
			rulesetsGroup.PUT("/:id", middleware.RequirePermission(auth.PermRulesetsWrite), rulesetHandlers.Update)
			rulesetsGroup.GET("/:id/versions", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.ListVersions)
			rulesetsGroup.POST("/:id/versions", middleware.RequirePermission(auth.PermRulesetsWrite), rulesetHandlers.CreateVersion)
			rulesetsGroup.GET("/:id/versions/active", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.GetActiveVersion)

			// Compilation is a pure read: it renders the artifact without
			// storing anything.
			rulesetsGroup.POST("/:id/compile", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.CompileActive)

			rulesetsGroup.GET("/versions/:versionId", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.GetVersion)
			rulesetsGroup.POST("/versions/:versionId/compile", middleware.RequirePermission(auth.PermRulesetsRead), rulesetHandlers.CompileVersion)
			rulesetsGroup.POST("/versions/:versionId/publish", middleware.RequirePermission(auth.PermRulesetsWrite), rulesetHandlers.Publish)
			rulesetsGroup.POST("/versions/:versionId/activate", middleware.RequirePermission(auth.PermApprovalsDecide), approvalHandlers.Activate)
		}

		fieldsGroup := v1.Group("/fields")
		{
			fieldsGroup.GET("", middleware.RequirePermission(auth.PermFieldsRead), fieldHandlers.List)
			fieldsGroup.POST("", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.Create)

			// Registered before /:fieldKey so "registry" is not captured as a key.
			fieldsGroup.POST("/registry/publish", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.PublishRegistry)
			fieldsGroup.GET("/registry/latest", middleware.RequirePermission(auth.PermFieldsRead), fieldHandlers.LatestRegistry)

			fieldsGroup.GET("/:fieldKey", middleware.RequirePermission(auth.PermFieldsRead), fieldHandlers.Get)
			fieldsGroup.POST("/:fieldKey/versions", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.CreateDraft)
			fieldsGroup.POST("/:fieldKey/activate", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.Activate)
			fieldsGroup.POST("/:fieldKey/deactivate", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.Deactivate)
			fieldsGroup.PUT("/:fieldKey/metadata", middleware.RequirePermission(auth.PermFieldsWrite), fieldHandlers.UpsertMetadata)
			fieldsGroup.GET("/:fieldKey/metadata", middleware.RequirePermission(auth.PermFieldsRead), fieldHandlers.GetMetadata)
		}

		approvalsGroup := v1.Group("/approvals")
		{
			approvalsGroup.GET("", middleware.RequirePermission(auth.PermApprovalsRead), approvalHandlers.List)
			approvalsGroup.GET("/:id", middleware.RequirePermission(auth.PermApprovalsRead), approvalHandlers.Get)

			// Submission is a maker action: it needs write permission on the
			// entity family named in the body, checked here as any-of.
			approvalsGroup.POST("/submit",
				middleware.RequireAnyPermission(auth.PermRulesWrite, auth.PermRulesetsWrite, auth.PermFieldsWrite),
				approvalHandlers.Submit)

			approvalsGroup.POST("/approve", middleware.RequirePermission(auth.PermApprovalsDecide), approvalHandlers.Approve)
			approvalsGroup.POST("/reject", middleware.RequirePermission(auth.PermApprovalsDecide), approvalHandlers.Reject)
		}

		auditGroup := v1.Group("/audit")
		auditGroup.Use(middleware.RequirePermission(auth.PermAuditRead))
		{
			auditGroup.GET("", auditHandlers.List)
			auditGroup.GET("/:id", auditHandlers.Get)
		}

		manifestsGroup := v1.Group("/manifests")
		manifestsGroup.Use(middleware.RequirePermission(auth.PermRulesetsRead))
		{
			manifestsGroup.GET("", manifestHandlers.List)
			manifestsGroup.GET("/latest", manifestHandlers.Latest)
			manifestsGroup.GET("/versions/:version", manifestHandlers.GetByVersion)
			manifestsGroup.GET("/:id", manifestHandlers.Get)
		}
	}

	return router, nil
}

// healthCheckHandler reports liveness: the process is up and the database
// connection pool answers a ping.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports readiness. Unlike the liveness probe (/health),
// this also checks the storage backend so a readiness gate fails when
// publishes would error.
func readinessHandler(db *sqlx.DB, store storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe storage with a known-absent sentinel path. Exists() exercises
		// authentication and network connectivity without creating any state.
		if _, err := store.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the service version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// CORSMiddleware handles CORS using the configured allowed origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Actor")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
