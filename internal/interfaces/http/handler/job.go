package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/application/generation"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/dto"
)

const jobCacheTTL = 5 * time.Second

// JobHandler 任务处理器
type JobHandler struct {
	queue     *generation.JobQueue
	jobRepo   repository.JobRepository
	novelRepo repository.NovelRepository
	cache     *redis.Cache
}

// NewJobHandler 创建任务处理器。cache 可为 nil。
func NewJobHandler(queue *generation.JobQueue, jobRepo repository.JobRepository, novelRepo repository.NovelRepository, cache *redis.Cache) *JobHandler {
	return &JobHandler{
		queue:     queue,
		jobRepo:   jobRepo,
		novelRepo: novelRepo,
		cache:     cache,
	}
}

// EnqueueOutline 为小说入队大纲生成任务
// @Summary 入队大纲生成任务
// @Description 根据小说的前情与类型设置创建 outline_generation 任务
// @Tags Jobs
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 202 {object} dto.Response[dto.EnqueueResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/outline [post]
func (h *JobHandler) EnqueueOutline(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)

	novel, err := h.novelRepo.GetByID(ctx, novelID)
	if err != nil {
		respondError(ctx, c, err, "failed to get novel")
		return
	}
	if novel == nil {
		dto.NotFound(c, "novel not found")
		return
	}

	job, err := h.queue.EnqueueOutline(ctx, novelID, entity.OutlineJobParams{
		Premise:      novel.Premise,
		Genre:        novel.Genre,
		Subgenre:     novel.Subgenre,
		ChapterCount: novel.ChapterCount,
	})
	if err != nil {
		respondError(ctx, c, err, "failed to enqueue outline job")
		return
	}
	dto.Accepted(c, &dto.EnqueueResponse{JobID: job.ID, Status: string(job.Status)})
}

// EnqueueChapter 为小说入队章节生成任务
// @Summary 入队章节生成任务
// @Description 根据小说大纲创建指定章节的 chapter_generation 任务
// @Tags Jobs
// @Accept json
// @Produce json
// @Param nid path string true "小说 ID"
// @Param request body dto.EnqueueChapterRequest true "章节号"
// @Success 202 {object} dto.Response[dto.EnqueueResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/chapters [post]
func (h *JobHandler) EnqueueChapter(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)

	var req dto.EnqueueChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	novel, err := h.novelRepo.GetByID(ctx, novelID)
	if err != nil {
		respondError(ctx, c, err, "failed to get novel")
		return
	}
	if novel == nil {
		dto.NotFound(c, "novel not found")
		return
	}
	if !novel.HasOutline() {
		dto.Conflict(c, "novel has no outline yet")
		return
	}
	if req.ChapterNumber > novel.ChapterCount {
		dto.BadRequest(c, "chapter number exceeds chapter count")
		return
	}

	job, err := h.queue.EnqueueChapter(ctx, novelID, entity.ChapterJobParams{
		ChapterNumber:   req.ChapterNumber,
		Premise:         novel.Premise,
		ChapterOutline:  novel.Outline[req.ChapterNumber-1],
		TargetWordCount: novel.TargetWordCount,
		Genre:           novel.Genre,
		Subgenre:        novel.Subgenre,
	})
	if err != nil {
		respondError(ctx, c, err, "failed to enqueue chapter job")
		return
	}
	dto.Accepted(c, &dto.EnqueueResponse{JobID: job.ID, Status: string(job.Status)})
}

// GetJob 获取任务详情
// @Summary 获取任务详情
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	load := func() (*entity.GenerationJob, error) {
		return h.jobRepo.GetByID(ctx, jobID)
	}

	var job *entity.GenerationJob
	var err error
	if h.cache != nil {
		var raw []byte
		raw, err = h.cache.GetOrLoadSafe(ctx, redis.JobKey(jobID), jobCacheTTL, func() (interface{}, error) {
			return load()
		})
		if err == nil && len(raw) > 0 && string(raw) != "null" {
			var cached entity.GenerationJob
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				job = &cached
			}
		}
		if err != nil {
			job, err = load()
		}
	} else {
		job, err = load()
	}

	if err != nil {
		respondError(ctx, c, err, "failed to get job")
		return
	}
	if job == nil {
		dto.NotFound(c, "job not found")
		return
	}
	dto.Success(c, dto.ToJobResponse(job))
}

// ListNovelJobs 获取小说的任务列表
// @Summary 获取小说的任务列表
// @Tags Jobs
// @Produce json
// @Param nid path string true "小说 ID"
// @Param job_type query string false "任务类型过滤"
// @Param status query string false "状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.JobListResponse]
// @Router /v1/novels/{nid}/jobs [get]
func (h *JobHandler) ListNovelJobs(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)
	page := dto.BindPage(c)

	var filter *repository.JobFilter
	jobType := entity.JobType(c.Query("job_type"))
	status := entity.JobStatus(c.Query("status"))
	if jobType != "" || status != "" {
		filter = &repository.JobFilter{JobType: jobType, Status: status}
	}

	result, err := h.jobRepo.ListByNovel(ctx, novelID, filter, repository.NewPagination(page.Page, page.PageSize))
	if err != nil {
		respondError(ctx, c, err, "failed to list jobs")
		return
	}
	dto.SuccessWithPage(c, dto.ToJobListResponse(result.Items),
		dto.NewPageMeta(page.Page, page.PageSize, int(result.Total)))
}

// CancelJob 取消排队中的任务
// @Summary 取消排队中的任务
// @Description 只有仍处于 queued 状态的任务可以取消
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CancelJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "任务已被认领或已终态"
// @Router /v1/jobs/{jid} [delete]
func (h *JobHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	if err := h.queue.Cancel(ctx, jobID); err != nil {
		respondError(ctx, c, err, "failed to cancel job")
		return
	}
	if h.cache != nil {
		// 取消立即可见，不等短 TTL 过期
		_ = h.cache.Delete(ctx, redis.JobKey(jobID))
	}
	dto.Success(c, &dto.CancelJobResponse{ID: jobID, Canceled: true})
}
