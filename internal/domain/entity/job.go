// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType 任务类型
type JobType string

const (
	JobTypeOutlineGeneration JobType = "outline_generation"
	JobTypeChapterGeneration JobType = "chapter_generation"
)

// Valid 检查任务类型是否合法
func (t JobType) Valid() bool {
	return t == JobTypeOutlineGeneration || t == JobTypeChapterGeneration
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal 是否处于终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// GenerationJob 生成任务
// 状态机：queued -> in_progress -> {completed | queued(重试) | failed}
type GenerationJob struct {
	ID           string          `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID      string          `json:"novel_id" gorm:"type:uuid;index;not null"`
	JobType      JobType         `json:"job_type" gorm:"type:varchar(50);not null"`
	Status       JobStatus       `json:"status" gorm:"type:varchar(50);index;default:'queued'"`
	Payload      json.RawMessage `json:"payload" gorm:"type:jsonb"`
	Result       json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	ErrorMessage string          `json:"error_message,omitempty" gorm:"type:text"`
	Progress     int             `json:"progress" gorm:"default:0"`
	RetryCount   int             `json:"retry_count" gorm:"default:0"`
	MaxRetries   int             `json:"max_retries" gorm:"default:3"`
	CreatedAt    time.Time       `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// NewGenerationJob 创建新任务
func NewGenerationJob(novelID string, jobType JobType, payload json.RawMessage, maxRetries int) *GenerationJob {
	now := time.Now()
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &GenerationJob{
		ID:         uuid.NewString(),
		NovelID:    novelID,
		JobType:    jobType,
		Status:     JobStatusQueued,
		Payload:    payload,
		Progress:   0,
		RetryCount: 0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Start 开始执行任务
func (j *GenerationJob) Start() {
	now := time.Now()
	j.Status = JobStatusInProgress
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete 完成任务
func (j *GenerationJob) Complete(result json.RawMessage) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Requeue 失败重排队，进度归零
func (j *GenerationJob) Requeue(errMsg string) {
	j.Status = JobStatusQueued
	j.RetryCount++
	j.Progress = 0
	j.ErrorMessage = errMsg
	j.StartedAt = nil
	j.UpdatedAt = time.Now()
}

// Release 放回队列。执行方消失而非执行失败，不消耗重试额度。
func (j *GenerationJob) Release(errMsg string) {
	j.Status = JobStatusQueued
	j.Progress = 0
	j.ErrorMessage = errMsg
	j.StartedAt = nil
	j.UpdatedAt = time.Now()
}

// Fail 任务终态失败
func (j *GenerationJob) Fail(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// CanRetry 检查是否还有重排队额度
func (j *GenerationJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IsStale 检查任务是否超过存活时限
func (j *GenerationJob) IsStale(timeout time.Duration, now time.Time) bool {
	if j.Status.IsTerminal() || j.StartedAt == nil {
		return false
	}
	return now.Sub(*j.StartedAt) > timeout
}

// OutlineJobParams 大纲生成任务参数
type OutlineJobParams struct {
	Premise      string `json:"premise"`
	Genre        string `json:"genre"`
	Subgenre     string `json:"subgenre,omitempty"`
	ChapterCount int    `json:"chapter_count"`
}

// Validate 校验大纲任务参数
func (p *OutlineJobParams) Validate() error {
	if strings.TrimSpace(p.Premise) == "" {
		return fmt.Errorf("premise is required")
	}
	if strings.TrimSpace(p.Genre) == "" {
		return fmt.Errorf("genre is required")
	}
	if p.ChapterCount < 1 || p.ChapterCount > 60 {
		return fmt.Errorf("chapter_count must be between 1 and 60, got %d", p.ChapterCount)
	}
	return nil
}

// ChapterJobParams 章节生成任务参数
type ChapterJobParams struct {
	ChapterNumber   int    `json:"chapter_number"`
	Premise         string `json:"premise"`
	ChapterOutline  string `json:"chapter_outline"`
	TargetWordCount int    `json:"target_word_count"`
	Genre           string `json:"genre"`
	Subgenre        string `json:"subgenre,omitempty"`
}

// Validate 校验章节任务参数
func (p *ChapterJobParams) Validate() error {
	if p.ChapterNumber < 1 {
		return fmt.Errorf("chapter_number must be positive, got %d", p.ChapterNumber)
	}
	if strings.TrimSpace(p.Premise) == "" {
		return fmt.Errorf("premise is required")
	}
	if strings.TrimSpace(p.ChapterOutline) == "" {
		return fmt.Errorf("chapter_outline is required")
	}
	if p.TargetWordCount < 1 {
		return fmt.Errorf("target_word_count must be positive, got %d", p.TargetWordCount)
	}
	return nil
}

// OutlineJobResult 大纲任务结果
type OutlineJobResult struct {
	Outline []string `json:"outline"`
}

// ChapterJobResult 章节任务结果
type ChapterJobResult struct {
	ChapterNumber int    `json:"chapter_number"`
	Content       string `json:"content"`
	WordCount     int    `json:"word_count"`
}
