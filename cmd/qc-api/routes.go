package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/handler"
	"github.com/noah-isme/qc-validator-api/internal/middleware"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/pkg/config"
	"github.com/noah-isme/qc-validator-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/qc-validator-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/qc-validator-api/pkg/middleware/requestid"
)

type routeHandlers struct {
	auth          *handler.AuthHandler
	checklists    *handler.ChecklistHandler
	listings      *handler.ListingHandler
	disputes      *handler.DisputeHandler
	notifications *handler.NotificationHandler
	documents     *handler.DocumentHandler
	events        *handler.EventsHandler
	metrics       *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, auth *service.AuthService, metrics *service.MetricsService, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.AccessLog(logr, logger.SkipPaths("/health", "/ready", "/metrics"), logger.WithCaller(middleware.CallerID)))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health"))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// The event stream outlives any request deadline.
	api.GET("/events", middleware.StreamJWT(auth), h.events.Stream)

	bounded := api.Group("")
	bounded.Use(middleware.Timeout(cfg.RequestTimeout), middleware.WithResponseMeta())

	authGroup := bounded.Group("/auth")
	authGroup.POST("/register", h.auth.Register)
	authGroup.POST("/login", h.auth.Login)
	authGroup.POST("/refresh", h.auth.Refresh)
	authGroup.POST("/logout", middleware.JWT(auth), h.auth.Logout)
	authGroup.GET("/me", middleware.JWT(auth), h.auth.Me)

	bounded.GET("/marketplace/listings", h.listings.Marketplace)
	bounded.GET("/documents/:token", h.documents.Download)

	secured := bounded.Group("")
	secured.Use(middleware.JWT(auth))

	checklists := secured.Group("/checklists")
	checklists.POST("", h.checklists.Create)
	checklists.GET("", h.checklists.List)
	checklists.GET("/:id", h.checklists.Get)
	checklists.PUT("/:id", h.checklists.Retitle)
	checklists.DELETE("/:id", h.checklists.Delete)
	checklists.PUT("/:id/items", h.checklists.ReviseItems)
	checklists.PUT("/:id/threshold", h.checklists.SetThreshold)
	checklists.POST("/:id/submit", h.checklists.Submit)
	checklists.POST("/:id/accept", h.checklists.Accept)
	checklists.POST("/:id/sign/seller", h.checklists.SignAsSeller)
	checklists.POST("/:id/sign/buyer", h.checklists.SignAsBuyer)
	checklists.POST("/:id/cancel", h.checklists.Cancel)
	checklists.GET("/:id/export", h.checklists.Export)
	checklists.GET("/:id/document", h.checklists.Document)
	checklists.POST("/:id/disputes", h.disputes.File)

	listings := secured.Group("/listings")
	listings.POST("", h.listings.Publish)
	listings.GET("/mine", h.listings.Mine)
	listings.POST("/:id/maintain", h.listings.Maintain)
	listings.DELETE("/:id", h.listings.Unpublish)

	disputes := secured.Group("/disputes")
	disputes.GET("", h.disputes.List)
	disputes.GET("/:id", h.disputes.Get)
	disputes.POST("/:id/offer", h.disputes.SubmitOffer)
	disputes.POST("/:id/resolve", h.disputes.Resolve)
	disputes.GET("/:id/messages", h.disputes.Messages)
	disputes.POST("/:id/messages", h.disputes.PostMessage)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.notifications.List)
	notifications.POST("/:id/read", h.notifications.MarkRead)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/disputes", h.disputes.Arbitration)
	admin.GET("/metrics", h.metrics.Snapshot)

	return r
}
