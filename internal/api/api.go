package api

import (
	"net/http"

	apikeyHandler "trigger-server/internal/apikeys/handler"
	"trigger-server/internal/ingest"
	"trigger-server/internal/metrics"
	triggerHandler "trigger-server/internal/triggers/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router         *gin.RouterGroup
	ingestHandler  *ingest.Handler
	triggerHandler triggerHandler.Handler
	apiKeyHandler  *apikeyHandler.Handler
	auth           gin.HandlerFunc
	collector      *metrics.Collector
}

func New(router *gin.RouterGroup, ingestHandler *ingest.Handler,
	trigHandler triggerHandler.Handler, keyHandler *apikeyHandler.Handler,
	auth gin.HandlerFunc, collector *metrics.Collector) API {
	return API{
		router:         router,
		ingestHandler:  ingestHandler,
		triggerHandler: trigHandler,
		apiKeyHandler:  keyHandler,
		auth:           auth,
		collector:      collector,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	a.router.GET("/metrics", gin.WrapH(a.collector.Handler()))

	// Hot path. Providers call these; they authenticate with signatures,
	// not API keys.
	a.router.POST("/webhooks/:app/:trigger_id", a.ingestHandler.Handle)
	a.router.GET("/webhooks/:app/:trigger_id", a.ingestHandler.Handle)

	apiGroup := a.router.Group("/api/v1")
	apiGroup.Use(a.auth)
	{
		apiGroup.GET("/catalog", a.triggerHandler.HandleCatalog)

		keysGroup := apiGroup.Group("/api-keys")
		keysGroup.POST("", a.apiKeyHandler.HandleCreateAPIKey)
		keysGroup.GET("", a.apiKeyHandler.HandleListAPIKeys)
		keysGroup.GET("/:id", a.apiKeyHandler.HandleGetAPIKey)
		keysGroup.PATCH("/:id", a.apiKeyHandler.HandleUpdateAPIKey)
		keysGroup.DELETE("/:id", a.apiKeyHandler.HandleRevokeAPIKey)

		triggersGroup := apiGroup.Group("/triggers")
		triggersGroup.POST("", a.triggerHandler.HandleCreateTrigger)
		triggersGroup.GET("", a.triggerHandler.HandleListTriggers)
		triggersGroup.POST("/bulk/status", a.triggerHandler.HandleBulkStatus)
		triggersGroup.POST("/bulk/delete", a.triggerHandler.HandleBulkDelete)
		triggersGroup.GET("/:trigger_id", a.triggerHandler.HandleGetTrigger)
		triggersGroup.PATCH("/:trigger_id", a.triggerHandler.HandleUpdateTrigger)
		triggersGroup.DELETE("/:trigger_id", a.triggerHandler.HandleDeleteTrigger)
		triggersGroup.POST("/:trigger_id/pause", a.triggerHandler.HandlePauseTrigger)
		triggersGroup.POST("/:trigger_id/resume", a.triggerHandler.HandleResumeTrigger)
		triggersGroup.POST("/:trigger_id/retry", a.triggerHandler.HandleRetryRegistration)
		triggersGroup.GET("/:trigger_id/health", a.triggerHandler.HandleGetHealth)
		triggersGroup.GET("/:trigger_id/stats", a.triggerHandler.HandleGetStats)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
