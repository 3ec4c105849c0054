package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/application/generation"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/dto"
)

// WorkerHandler 工作器触发处理器。
// 常驻 worker 进程之外的部署形态(定时触发、无服务器)通过这些
// 端点驱动队列。
type WorkerHandler struct {
	worker *generation.Worker
	queue  *generation.JobQueue
}

// NewWorkerHandler 创建工作器触发处理器
func NewWorkerHandler(worker *generation.Worker, queue *generation.JobQueue) *WorkerHandler {
	return &WorkerHandler{
		worker: worker,
		queue:  queue,
	}
}

// ProcessNext 认领并处理一个任务
// @Summary 触发一次任务处理
// @Description 认领队列中最老的任务并同步处理完;队列为空时 processed=false
// @Tags Worker
// @Produce json
// @Success 200 {object} dto.Response[dto.ProcessResponse]
// @Router /v1/worker/process [post]
func (h *WorkerHandler) ProcessNext(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.worker.ProcessNextJob(ctx)
	if err != nil {
		respondError(ctx, c, err, "failed to process job")
		return
	}
	if result == nil {
		dto.Success(c, &dto.ProcessResponse{Processed: false})
		return
	}
	dto.Success(c, &dto.ProcessResponse{
		Processed: true,
		JobID:     result.JobID,
		JobType:   string(result.JobType),
		Status:    string(result.Status),
		Error:     result.Error,
	})
}

// Cleanup 清理过期终态任务
// @Summary 清理过期终态任务
// @Description 删除超过保留期的 completed/failed 任务
// @Tags Worker
// @Produce json
// @Param older_than_days query int false "保留天数,默认 7"
// @Success 200 {object} dto.Response[dto.CleanupResponse]
// @Router /v1/worker/cleanup [post]
func (h *WorkerHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()
	days := dto.BindQueryInt(c, "older_than_days", 7)

	deleted, err := h.queue.Cleanup(ctx, days)
	if err != nil {
		respondError(ctx, c, err, "failed to clean up jobs")
		return
	}
	dto.Success(c, &dto.CleanupResponse{Deleted: deleted})
}
