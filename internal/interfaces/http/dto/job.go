// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"encoding/json"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

// EnqueueChapterRequest 章节任务入队请求。
// 前情、大纲条目和目标词数都取自小说记录,调用方只指定章节号。
type EnqueueChapterRequest struct {
	ChapterNumber int `json:"chapter_number" binding:"required,min=1"`
}

// JobResponse 任务响应。重试记账是内部实现,不对外暴露。
type JobResponse struct {
	ID           string          `json:"id"`
	NovelID      string          `json:"novel_id"`
	JobType      string          `json:"job_type"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// EnqueueResponse 入队响应
type EnqueueResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CancelJobResponse 取消任务响应
type CancelJobResponse struct {
	ID       string `json:"id"`
	Canceled bool   `json:"canceled"`
}

// ProcessResponse 工作器触发响应
type ProcessResponse struct {
	Processed bool   `json:"processed"`
	JobID     string `json:"job_id,omitempty"`
	JobType   string `json:"job_type,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CleanupResponse 清理响应
type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

// ToJobResponse 将领域实体转换为响应 DTO
func ToJobResponse(j *entity.GenerationJob) *JobResponse {
	if j == nil {
		return nil
	}
	resp := &JobResponse{
		ID:           j.ID,
		NovelID:      j.NovelID,
		JobType:      string(j.JobType),
		Status:       string(j.Status),
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Status == entity.JobStatusCompleted {
		resp.Result = j.Result
	}
	return resp
}

// ToJobListResponse 批量转换任务列表
func ToJobListResponse(jobs []*entity.GenerationJob) *JobListResponse {
	out := make([]*JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToJobResponse(j))
	}
	return &JobListResponse{Jobs: out}
}
