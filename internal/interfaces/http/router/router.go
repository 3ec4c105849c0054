// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/config"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/handler"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Health *handler.HealthHandler
	Novel  *handler.NovelHandler
	Job    *handler.JobHandler
	Stream *handler.StreamHandler
	Worker *handler.WorkerHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  *redis.RateLimiter
}

// New 创建新的路由器。limiter 可为 nil。
func New(cfg *config.Config, handlers Handlers, limiter *redis.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
	r.engine.Use(middleware.RateLimit(r.cfg.Security.RateLimit, r.limiter))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	// 系统端点
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	{
		novels := v1.Group("/novels")
		{
			novels.POST("", r.handlers.Novel.CreateNovel)
			novels.GET("", r.handlers.Novel.ListNovels)
			novels.GET("/:nid", r.handlers.Novel.GetNovel)
			novels.GET("/:nid/chapters", r.handlers.Novel.ListChapters)
			novels.GET("/:nid/chapters/:num", r.handlers.Novel.GetChapter)

			novels.POST("/:nid/outline", r.handlers.Job.EnqueueOutline)
			novels.POST("/:nid/chapters", r.handlers.Job.EnqueueChapter)
			novels.GET("/:nid/jobs", r.handlers.Job.ListNovelJobs)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:jid", r.handlers.Job.GetJob)
			jobs.DELETE("/:jid", r.handlers.Job.CancelJob)
			jobs.GET("/:jid/stream", r.handlers.Stream.StreamJobProgress)
		}

		worker := v1.Group("/worker")
		{
			worker.POST("/process", r.handlers.Worker.ProcessNext)
			worker.POST("/cleanup", r.handlers.Worker.Cleanup)
		}
	}
}
