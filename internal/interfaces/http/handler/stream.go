package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/application/generation"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/dto"
)

const streamHeartbeat = 15 * time.Second

// StreamHandler 任务进度流式处理器
type StreamHandler struct {
	hub     *generation.ProgressHub
	jobRepo repository.JobRepository
}

// NewStreamHandler 创建流式处理器
func NewStreamHandler(hub *generation.ProgressHub, jobRepo repository.JobRepository) *StreamHandler {
	return &StreamHandler{
		hub:     hub,
		jobRepo: jobRepo,
	}
}

// StreamJobProgress 通过 SSE 订阅任务进度
// @Summary 订阅任务进度
// @Description SSE 流。先回放持久化快照,随后推送实时事件,任务终态后关闭。
// @Tags Jobs
// @Produce text/event-stream
// @Param jid path string true "任务 ID"
// @Success 200 "SSE stream"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid}/stream [get]
func (h *StreamHandler) StreamJobProgress(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	// 校验任务存在并取持久化快照。广播中心是进程内的,
	// 任务可能由别的进程处理,快照保证订阅方至少能看到当前状态。
	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(ctx, c, err, "failed to get job")
		return
	}
	if job == nil {
		dto.NotFound(c, "job not found")
		return
	}

	events, cancel := h.hub.Subscribe(jobID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	snapshot := generation.ProgressEvent{
		JobID:     job.ID,
		JobType:   job.JobType,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.ErrorMessage,
		Timestamp: job.UpdatedAt,
	}
	c.SSEvent("progress", snapshot)
	c.Writer.Flush()
	if snapshot.Terminal() {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", event)
			return !event.Terminal()

		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().Unix()})
			return true

		case <-ctx.Done():
			return false
		}
	})
}
