// Package wire 提供依赖装配
package wire

import (
	"context"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/application/generation"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/config"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/llm"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/postgres"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/handler"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/router"
	obseino "github.com/TheAccidentalTeacher/NovGen-sub000/internal/observability/eino"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/tracer"
)

// App 装配完成的应用依赖图。api-server 与 job-worker 共用同一套
// 存储、队列和工作器,只是入口循环不同。
type App struct {
	Cfg *config.Config

	PG      *postgres.Client
	Redis   *redis.Client
	Cache   *redis.Cache
	Limiter *redis.RateLimiter

	JobRepo   *postgres.JobRepository
	NovelRepo *postgres.NovelRepository
	TxMgr     *postgres.TxManager

	Hub    *generation.ProgressHub
	Queue  *generation.JobQueue
	Worker *generation.Worker

	tracerShutdown func(context.Context) error
}

// NewApp 按配置装配依赖。返回的清理函数按依赖逆序释放资源。
func NewApp(ctx context.Context, cfg *config.Config, serviceName string) (*App, func(), error) {
	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return nil, nil, err
	}
	obseino.Init()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, nil, err
	}

	// Redis 不可用时缓存与限流退化,不阻塞启动。
	var cache *redis.Cache
	var limiter *redis.RateLimiter
	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis unavailable, cache and rate limiting disabled", "error", err.Error())
		redisClient = nil
	} else {
		cache = redis.NewCache(redisClient)
		limiter = redis.NewRateLimiter(redisClient)
	}

	jobRepo := postgres.NewJobRepository(pgClient)
	novelRepo := postgres.NewNovelRepository(pgClient)
	txMgr := postgres.NewTxManager(pgClient)

	hub := generation.NewProgressHub(cfg.Worker.ProgressIdleTimeout)
	queue := generation.NewJobQueue(jobRepo, hub, cache, cfg.Generation.MaxJobRetries, cfg.Worker.StalenessTimeout)

	factory := llm.NewEinoFactory(cfg)
	client := generation.NewClient(factory, cfg.LLM.DefaultProvider, cfg.LLM.CallTimeout, cfg.LLM.MaxRetries,
		generation.BackoffPolicy{
			Initial:    cfg.LLM.RetryBackoff.Initial,
			Max:        cfg.LLM.RetryBackoff.Max,
			Multiplier: cfg.LLM.RetryBackoff.Multiplier,
		})
	ctxBuilder := generation.NewContextBuilder(cfg.Generation.ContextWordCap, cfg.Generation.FullTextChapters)
	length := generation.NewLengthPolicy(cfg.Generation.WordVariance, cfg.Generation.UndershootRatio)

	worker := generation.NewWorker(queue, jobRepo, novelRepo, txMgr, client, ctxBuilder, length, cache,
		generation.WorkerConfig{
			PollInterval:     cfg.Worker.PollInterval,
			ChapterAttempts:  cfg.Generation.ChapterAttempts,
			ExpansionRetries: cfg.Generation.ExpansionRetries,
		})

	app := &App{
		Cfg:            cfg,
		PG:             pgClient,
		Redis:          redisClient,
		Cache:          cache,
		Limiter:        limiter,
		JobRepo:        jobRepo,
		NovelRepo:      novelRepo,
		TxMgr:          txMgr,
		Hub:            hub,
		Queue:          queue,
		Worker:         worker,
		tracerShutdown: shutdownTracer,
	}

	cleanup := func() {
		app.Hub.Close()
		if app.Redis != nil {
			_ = app.Redis.Close()
		}
		_ = app.PG.Close()
		_ = app.tracerShutdown(context.Background())
	}
	return app, cleanup, nil
}

// BuildRouter 装配 HTTP 路由
func (a *App) BuildRouter() *router.Router {
	handlers := router.Handlers{
		Health: handler.NewHealthHandler(a.PG, a.Redis),
		Novel:  handler.NewNovelHandler(a.NovelRepo, a.Cache),
		Job:    handler.NewJobHandler(a.Queue, a.JobRepo, a.NovelRepo, a.Cache),
		Stream: handler.NewStreamHandler(a.Hub, a.JobRepo),
		Worker: handler.NewWorkerHandler(a.Worker, a.Queue),
	}
	return router.New(a.Cfg, handlers, a.Limiter)
}
