package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/zoonk/zoonk-sub009/internal/http/handlers"
	httpMW "github.com/zoonk/zoonk-sub009/internal/http/middleware"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type RouterConfig struct {
	GenerationHandler *httpH.GenerationHandler
	HealthHandler     *httpH.HealthHandler

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.GenerationHandler != nil {
			api.POST("/generations", cfg.GenerationHandler.Trigger)
			api.GET("/generations/:id", cfg.GenerationHandler.GetRun)
			api.GET("/generations/:id/stream", cfg.GenerationHandler.Stream)
		}
	}

	return r
}
