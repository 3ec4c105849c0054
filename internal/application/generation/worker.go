package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/metrics"
)

// WorkerConfig 工作器行为参数。
type WorkerConfig struct {
	PollInterval     time.Duration
	ChapterAttempts  int
	ExpansionRetries int
}

// ProcessResult 单次处理的结果,供触发端点回显。
type ProcessResult struct {
	JobID   string         `json:"job_id"`
	JobType entity.JobType `json:"job_type"`
	Status  entity.JobStatus `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// Worker 生成工作器。认领任务、按类型分发、持久化结果并上报进度。
// 可多实例并行部署,互斥性由 ClaimNext 保证。
type Worker struct {
	queue      *JobQueue
	jobs       repository.JobRepository
	novels     repository.NovelRepository
	tx         repository.Transactor
	client     *Client
	ctxBuilder *ContextBuilder
	length     LengthPolicy
	cache      *redis.Cache
	cfg        WorkerConfig
}

// NewWorker 创建工作器。tx 与 cache 可为 nil。
func NewWorker(
	queue *JobQueue,
	jobs repository.JobRepository,
	novels repository.NovelRepository,
	tx repository.Transactor,
	client *Client,
	ctxBuilder *ContextBuilder,
	length LengthPolicy,
	cache *redis.Cache,
	cfg WorkerConfig,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ChapterAttempts <= 0 {
		cfg.ChapterAttempts = 3
	}
	if cfg.ExpansionRetries < 0 {
		cfg.ExpansionRetries = 0
	}
	return &Worker{
		queue:      queue,
		jobs:       jobs,
		novels:     novels,
		tx:         tx,
		client:     client,
		ctxBuilder: ctxBuilder,
		length:     length,
		cache:      cache,
		cfg:        cfg,
	}
}

// Run 轮询循环。队列为空时按 PollInterval 休眠,处理完一个任务后立即
// 尝试下一个。ctx 取消后返回。
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, err := w.ProcessNextJob(ctx)
		if err != nil {
			logger.Error(ctx, "worker iteration failed", err)
		}
		if result != nil {
			// 刚处理完一个任务,队列里可能还有,立刻继续。
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNextJob 认领并处理一个任务。队列为空时返回 (nil, nil)。
// 返回的 error 表示编排层故障(存储不可用等);任务本身的生成失败
// 体现在 ProcessResult.Error 与任务状态里,不作为 error 返回。
func (w *Worker) ProcessNextJob(ctx context.Context) (*ProcessResult, error) {
	job, err := w.jobs.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)
	ctx = logger.WithContext(ctx, logger.NovelIDKey, job.NovelID)
	ctx = logger.WithContext(ctx, logger.JobTypeKey, string(job.JobType))
	logger.Info(ctx, "job claimed", "retry_count", job.RetryCount)

	start := time.Now()
	w.queue.Progress(ctx, job, 5, "claimed")

	procErr := w.dispatch(ctx, job)
	result := &ProcessResult{JobID: job.ID, JobType: job.JobType}

	if procErr != nil {
		retryable := isRetryableJobError(procErr)
		if err := w.queue.FailWithRetry(ctx, job, procErr, retryable); err != nil {
			return nil, err
		}
		if job.Status == entity.JobStatusFailed && job.JobType == entity.JobTypeOutlineGeneration {
			w.resetNovelAfterOutlineFailure(ctx, job.NovelID)
		}
		result.Status = job.Status
		result.Error = procErr.Error()
		metrics.ObserveJobDuration(string(job.JobType), string(job.Status), start)
		return result, nil
	}

	result.Status = job.Status
	metrics.ObserveJobDuration(string(job.JobType), string(job.Status), start)
	logger.Info(ctx, "job finished", "status", string(job.Status), "duration", time.Since(start).String())
	return result, nil
}

// dispatch 按任务类型分发。新增任务类型必须在这里显式接入。
func (w *Worker) dispatch(ctx context.Context, job *entity.GenerationJob) error {
	switch job.JobType {
	case entity.JobTypeOutlineGeneration:
		return w.processOutline(ctx, job)
	case entity.JobTypeChapterGeneration:
		return w.processChapter(ctx, job)
	default:
		return apperrors.ErrJobDataInvalid.WithDetail(fmt.Sprintf("unknown job type %q", job.JobType))
	}
}

func (w *Worker) processOutline(ctx context.Context, job *entity.GenerationJob) error {
	var params entity.OutlineJobParams
	if err := json.Unmarshal(job.Payload, &params); err != nil {
		return apperrors.Wrap(err, apperrors.CodeJobDataInvalid, "failed to decode outline payload")
	}
	if err := params.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeJobDataInvalid, "invalid outline payload")
	}

	w.queue.Progress(ctx, job, 10, "generating outline")
	system, user := BuildOutlinePrompt(params)
	res, err := w.client.Generate(ctx, "outline", GenerateRequest{System: system, User: user})
	if err != nil {
		return err
	}

	w.queue.Progress(ctx, job, 70, "parsing outline")
	outline, err := ParseOutline(res.Text, params.ChapterCount)
	if err != nil {
		return err
	}

	novel, err := w.novels.GetByID(ctx, job.NovelID)
	if err != nil {
		return err
	}
	if novel == nil {
		return apperrors.ErrNovelNotFound.WithDetail(fmt.Sprintf("novel %s", job.NovelID))
	}

	w.queue.Progress(ctx, job, 90, "persisting outline")
	novel.SetOutline(outline)
	persist := func(ctx context.Context) error {
		if err := w.novels.Update(ctx, novel); err != nil {
			return err
		}
		return w.queue.Complete(ctx, job, entity.OutlineJobResult{Outline: outline})
	}
	if err := w.inTransaction(ctx, persist); err != nil {
		return err
	}
	w.invalidateNovel(ctx, novel.ID)
	return nil
}

func (w *Worker) processChapter(ctx context.Context, job *entity.GenerationJob) error {
	var params entity.ChapterJobParams
	if err := json.Unmarshal(job.Payload, &params); err != nil {
		return apperrors.Wrap(err, apperrors.CodeJobDataInvalid, "failed to decode chapter payload")
	}
	if err := params.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeJobDataInvalid, "invalid chapter payload")
	}

	novel, err := w.novels.GetByID(ctx, job.NovelID)
	if err != nil {
		return err
	}
	if novel == nil {
		return apperrors.ErrNovelNotFound.WithDetail(fmt.Sprintf("novel %s", job.NovelID))
	}

	previous, err := w.novels.ListChapters(ctx, job.NovelID)
	if err != nil {
		return err
	}
	texts := make([]string, 0, len(previous))
	for _, ch := range previous {
		if ch.ChapterNumber < params.ChapterNumber {
			texts = append(texts, ch.Content)
		}
	}
	narrative := w.ctxBuilder.Build(texts, params.TargetWordCount)
	w.queue.Progress(ctx, job, 15, "context built")

	draft, err := w.generateChapterContent(ctx, job, params, narrative)
	if err != nil {
		return err
	}

	w.queue.Progress(ctx, job, 85, "persisting chapter")
	chapter := entity.NewChapter(job.NovelID, params.ChapterNumber, draft.content)
	chapter.RegenerationCount = draft.regenerations
	chapter.WasRegenerated = draft.regenerations > 0
	chapter.Metadata = &entity.GenerationMetadata{
		Provider:         w.client.Provider(),
		PromptTokens:     draft.promptTokens,
		CompletionTokens: draft.completionTokens,
		GeneratedAt:      time.Now().Format(time.RFC3339),
	}

	persist := func(ctx context.Context) error {
		if err := w.novels.AppendChapter(ctx, chapter); err != nil {
			return err
		}
		if err := w.advanceNovelStatus(ctx, novel, params.ChapterNumber); err != nil {
			return err
		}
		return w.queue.Complete(ctx, job, entity.ChapterJobResult{
			ChapterNumber: params.ChapterNumber,
			Content:       draft.content,
			WordCount:     draft.wordCount,
		})
	}
	if err := w.inTransaction(ctx, persist); err != nil {
		return err
	}
	w.invalidateNovel(ctx, novel.ID)
	return nil
}

// chapterDraft 长度协议的产物:保留的最长一稿及其全部调用的 token 累计
type chapterDraft struct {
	content          string
	wordCount        int
	regenerations    int
	promptTokens     int
	completionTokens int
}

// generateChapterContent 生成章节正文并执行长度协议:
// 初稿离目标过远时整章重试,仅偏短时走扩写;扩写额度用尽后保留
// 目前最长的一稿,不因偏短判任务失败。
func (w *Worker) generateChapterContent(ctx context.Context, job *entity.GenerationJob, params entity.ChapterJobParams, narrative string) (*chapterDraft, error) {
	system, user := BuildChapterPrompt(params, narrative)

	draft := &chapterDraft{}
	for attempt := 1; attempt <= w.cfg.ChapterAttempts; attempt++ {
		res, err := w.client.Generate(ctx, "chapter", GenerateRequest{System: system, User: user})
		if err != nil {
			return nil, err
		}
		draft.promptTokens += res.PromptTokens
		draft.completionTokens += res.CompletionTokens
		wc := entity.CountWords(res.Text)
		if wc > draft.wordCount {
			draft.content, draft.wordCount = res.Text, wc
		}
		// 词数不足目标四分之一时认为初稿不可扩写,整章重来。
		if wc*4 >= params.TargetWordCount {
			break
		}
		logger.Warn(ctx, "chapter draft far below target, regenerating",
			"attempt", attempt, "word_count", wc, "target", params.TargetWordCount)
	}
	w.queue.Progress(ctx, job, 60, "draft generated")

	for i := 0; i < w.cfg.ExpansionRetries && w.length.TooShort(draft.wordCount, params.TargetWordCount); i++ {
		logger.Info(ctx, "expanding short chapter",
			"word_count", draft.wordCount, "min", w.length.MinWords(params.TargetWordCount))
		expSystem, expUser := BuildExpansionPrompt(params, draft.content)
		res, err := w.client.Generate(ctx, "expansion", GenerateRequest{System: expSystem, User: expUser})
		if err != nil {
			return nil, err
		}
		draft.regenerations++
		draft.promptTokens += res.PromptTokens
		draft.completionTokens += res.CompletionTokens
		metrics.ChapterExpansionsTotal.Inc()
		if wc := entity.CountWords(res.Text); wc > draft.wordCount {
			draft.content, draft.wordCount = res.Text, wc
		}
		w.queue.Progress(ctx, job, 75, "chapter expanded")
	}
	return draft, nil
}

// advanceNovelStatus 章节落库后的小说状态推进:首章进入 drafting,
// 末章落库后进入 completed。
func (w *Worker) advanceNovelStatus(ctx context.Context, novel *entity.Novel, chapterNumber int) error {
	changed := false
	if novel.Status == entity.NovelStatusOutline || novel.Status == entity.NovelStatusSetup {
		novel.Status = entity.NovelStatusDrafting
		changed = true
	}
	if chapterNumber >= novel.ChapterCount && novel.Status == entity.NovelStatusDrafting {
		novel.Status = entity.NovelStatusCompleted
		changed = true
	}
	if !changed {
		return nil
	}
	novel.UpdatedAt = time.Now()
	return w.novels.Update(ctx, novel)
}

// resetNovelAfterOutlineFailure 大纲任务终态失败后把小说回退到 setup,
// 避免留在不可恢复的中间状态。
func (w *Worker) resetNovelAfterOutlineFailure(ctx context.Context, novelID string) {
	novel, err := w.novels.GetByID(ctx, novelID)
	if err != nil || novel == nil {
		return
	}
	if novel.Status != entity.NovelStatusSetup {
		novel.ResetToSetup()
		if err := w.novels.Update(ctx, novel); err != nil {
			logger.Error(ctx, "failed to reset novel after outline failure", err)
			return
		}
	}
	w.invalidateNovel(ctx, novelID)
}

func (w *Worker) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.tx == nil {
		return fn(ctx)
	}
	return w.tx.WithTransaction(ctx, fn)
}

func (w *Worker) invalidateNovel(ctx context.Context, novelID string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Delete(ctx, redis.NovelKey(novelID)); err != nil {
		logger.Warn(ctx, "failed to invalidate novel cache", string(logger.NovelIDKey), novelID, "error", err.Error())
	}
}

// isRetryableJobError 任务级错误分类。默认一切失败可重排队;
// 只有载荷本身非法或引用的小说不存在才直接终态失败,重试无意义。
func isRetryableJobError(err error) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.CodeJobDataInvalid, apperrors.CodeInvalidParam, apperrors.CodeNovelNotFound:
			return false
		}
	}
	return true
}
