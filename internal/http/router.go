package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/atendo/dispatchd/internal/config"
	"github.com/atendo/dispatchd/internal/dispatch"
	"github.com/atendo/dispatchd/internal/http/handlers"
	"github.com/atendo/dispatchd/internal/http/middleware"
	"github.com/atendo/dispatchd/internal/realtime"
	"github.com/atendo/dispatchd/internal/rotation"

	_ "github.com/atendo/dispatchd/docs"
)

func Router(cfg config.Config, store handlers.Store, dispatcher *dispatch.Dispatcher, responder *dispatch.Responder, ring *rotation.Ring, recon *realtime.Reconciler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:      store,
		Dispatcher: dispatcher,
		Responder:  responder,
		Ring:       ring,
		Recon:      recon,
		Validator:  validator.New(),
		Logger:     logger,
		AdminKey:   cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/queue", h.QueueView)
		api.GET("/tickets/:id", h.TicketDetails)
		api.GET("/operators", h.OperatorsList)
		api.GET("/offers/:id", h.OfferDetails)

		api.POST("/tickets", h.TicketCreate)
		api.POST("/offers/:id/accept", h.OfferAccept)
		api.POST("/offers/:id/reject", h.OfferReject)
		api.POST("/offers/:id/expire", h.OfferExpire)
		api.POST("/tickets/:id/pause", h.TicketPause)
		api.POST("/tickets/:id/resume", h.TicketResume)
		api.POST("/tickets/:id/finish", h.TicketFinish)
		api.POST("/operators/:id/reachable", h.OperatorReachable)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/dispatch", h.DispatchNow)
		admin.POST("/operators/:id/enable", h.OperatorEnable)
		admin.POST("/operators/:id/disable", h.OperatorDisable)
		admin.POST("/tickets/:id/unserve", h.TicketUnserve)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
