package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/metrics"
)

// JobQueue 任务队列服务,封装入队、状态流转、清理与启动对账。
// 并发安全性由 JobRepository.ClaimNext 保证,本层只做编排。
type JobQueue struct {
	jobs             repository.JobRepository
	hub              *ProgressHub
	cache            *redis.Cache
	maxRetries       int
	stalenessTimeout time.Duration
}

// NewJobQueue 创建任务队列服务。cache 可为 nil。
func NewJobQueue(jobs repository.JobRepository, hub *ProgressHub, cache *redis.Cache, maxRetries int, stalenessTimeout time.Duration) *JobQueue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if stalenessTimeout <= 0 {
		stalenessTimeout = 24 * time.Hour
	}
	return &JobQueue{
		jobs:             jobs,
		hub:              hub,
		cache:            cache,
		maxRetries:       maxRetries,
		stalenessTimeout: stalenessTimeout,
	}
}

// EnqueueOutline 创建大纲生成任务。
func (q *JobQueue) EnqueueOutline(ctx context.Context, novelID string, params entity.OutlineJobParams) (*entity.GenerationJob, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidParam, "invalid outline job params")
	}
	return q.enqueue(ctx, novelID, entity.JobTypeOutlineGeneration, &params)
}

// EnqueueChapter 创建章节生成任务。
func (q *JobQueue) EnqueueChapter(ctx context.Context, novelID string, params entity.ChapterJobParams) (*entity.GenerationJob, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidParam, "invalid chapter job params")
	}
	return q.enqueue(ctx, novelID, entity.JobTypeChapterGeneration, &params)
}

func (q *JobQueue) enqueue(ctx context.Context, novelID string, jobType entity.JobType, params interface{}) (*entity.GenerationJob, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidParam, "failed to encode job payload")
	}

	job := entity.NewGenerationJob(novelID, jobType, payload, q.maxRetries)
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(jobType)).Inc()
	q.publish(job, "queued")
	logger.Info(ctx, "job enqueued",
		string(logger.JobIDKey), job.ID,
		string(logger.NovelIDKey), novelID,
		string(logger.JobTypeKey), string(jobType),
	)
	return job, nil
}

// Complete 将任务置为完成并广播终态事件。
func (q *JobQueue) Complete(ctx context.Context, job *entity.GenerationJob, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode job result")
	}
	if err := q.jobs.Complete(ctx, job.ID, raw); err != nil {
		return err
	}
	job.Complete(raw)

	metrics.JobsCompletedTotal.WithLabelValues(string(job.JobType)).Inc()
	q.invalidate(ctx, job.ID)
	q.publish(job, "completed")
	return nil
}

// FailWithRetry 失败处理:可重试且有剩余额度时重排队,否则置为终态失败。
func (q *JobQueue) FailWithRetry(ctx context.Context, job *entity.GenerationJob, cause error, retryable bool) error {
	msg := cause.Error()

	if retryable && job.CanRetry() {
		if err := q.jobs.Requeue(ctx, job.ID, msg); err != nil {
			return err
		}
		job.Requeue(msg)

		metrics.JobsRequeuedTotal.WithLabelValues(string(job.JobType)).Inc()
		q.invalidate(ctx, job.ID)
		q.publish(job, fmt.Sprintf("requeued after failure (attempt %d/%d): %s", job.RetryCount, job.MaxRetries, msg))
		logger.Warn(ctx, "job requeued",
			string(logger.JobIDKey), job.ID,
			"retry_count", job.RetryCount,
			"error", msg,
		)
		return nil
	}

	if err := q.jobs.Fail(ctx, job.ID, msg); err != nil {
		return err
	}
	job.Fail(msg)

	metrics.JobsFailedTotal.WithLabelValues(string(job.JobType)).Inc()
	q.invalidate(ctx, job.ID)
	q.publish(job, msg)
	logger.Error(ctx, "job failed permanently", cause,
		string(logger.JobIDKey), job.ID,
		"retry_count", job.RetryCount,
	)
	return nil
}

// Progress 上报任务进度,进度只增不减。
func (q *JobQueue) Progress(ctx context.Context, job *entity.GenerationJob, progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := q.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		// 进度上报失败不影响任务本身,记日志后继续。
		logger.Warn(ctx, "failed to persist progress",
			string(logger.JobIDKey), job.ID,
			"progress", progress,
			"error", err.Error(),
		)
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	q.invalidate(ctx, job.ID)
	q.publish(job, message)
}

// Cancel 取消仍在排队的任务,已被认领或已终态的任务拒绝取消。
func (q *JobQueue) Cancel(ctx context.Context, jobID string) error {
	if err := q.jobs.CancelQueued(ctx, jobID); err != nil {
		return err
	}
	q.invalidate(ctx, jobID)

	job, err := q.jobs.GetByID(ctx, jobID)
	if err == nil && job != nil {
		q.publish(job, "canceled by caller")
	}
	return nil
}

// Cleanup 删除超过保留期的终态任务,返回删除数量。
func (q *JobQueue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	deleted, err := q.jobs.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.JobsCleanedTotal.Add(float64(deleted))
		logger.Info(ctx, "job cleanup finished", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Reconcile 启动对账。超过存活时限的 in_progress 任务终态失败,
// 未超时限的放回队列让认领循环重新捡起,不消耗重试额度。
func (q *JobQueue) Reconcile(ctx context.Context) error {
	jobs, err := q.jobs.ListNonTerminal(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	failed, released := 0, 0
	for _, job := range jobs {
		if job.Status != entity.JobStatusInProgress {
			continue
		}

		if job.IsStale(q.stalenessTimeout, now) {
			staleErr := apperrors.ErrJobStale.WithDetail(
				fmt.Sprintf("in_progress since %s, timeout %s", job.StartedAt.Format(time.RFC3339), q.stalenessTimeout))
			if err := q.FailWithRetry(ctx, job, staleErr, false); err != nil {
				logger.Error(ctx, "failed to reconcile stale job", err,
					string(logger.JobIDKey), job.ID,
				)
				continue
			}
			failed++
			continue
		}

		msg := "released after worker interruption"
		if err := q.jobs.Release(ctx, job.ID, msg); err != nil {
			logger.Error(ctx, "failed to release orphaned job", err,
				string(logger.JobIDKey), job.ID,
			)
			continue
		}
		job.Release(msg)
		q.invalidate(ctx, job.ID)
		q.publish(job, msg)
		released++
	}

	if failed > 0 || released > 0 {
		logger.Info(ctx, "reconciled jobs", "failed_stale", failed, "released", released)
	}
	return nil
}

func (q *JobQueue) publish(job *entity.GenerationJob, message string) {
	if q.hub == nil {
		return
	}
	q.hub.Publish(ProgressEvent{
		JobID:    job.ID,
		JobType:  job.JobType,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
	})
}

func (q *JobQueue) invalidate(ctx context.Context, jobID string) {
	if q.cache == nil {
		return
	}
	if err := q.cache.Delete(ctx, redis.JobKey(jobID)); err != nil {
		logger.Warn(ctx, "failed to invalidate job cache", string(logger.JobIDKey), jobID, "error", err.Error())
	}
}
