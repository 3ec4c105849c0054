// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

// JobRepository 任务仓储实现
type JobRepository struct {
	client *Client
}

// NewJobRepository 创建任务仓储
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

// Create 创建任务
func (r *JobRepository) Create(ctx context.Context, job *entity.GenerationJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(job).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to create job")
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.GenerationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.GenerationJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get job")
	}
	return &job, nil
}

// claimSQL 单条语句完成选取与状态翻转；SKIP LOCKED 保证并发调用方互斥
const claimSQL = `
UPDATE generation_jobs
SET status = ?, started_at = NOW(), updated_at = NOW()
WHERE id = (
	SELECT id FROM generation_jobs
	WHERE status = ?
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimNext 原子认领最老的可执行任务
func (r *JobRepository) ClaimNext(ctx context.Context) (*entity.GenerationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ClaimNext")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.GenerationJob
	res := db.Raw(claimSQL, entity.JobStatusInProgress, entity.JobStatusQueued).Scan(&job)
	if res.Error != nil {
		span.RecordError(res.Error)
		return nil, apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to claim job")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &job, nil
}

// UpdateProgress 单调更新任务进度；只对 in_progress 任务生效
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.UpdateProgress")
	defer span.End()

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	db := getDB(ctx, r.client.db)
	err := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status = ?", id, entity.JobStatusInProgress).
		Update("progress", gorm.Expr("GREATEST(progress, ?)", progress)).Error
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to update job progress")
	}
	return nil
}

// Complete 置为 completed；已终态的任务拒绝覆盖
func (r *JobRepository) Complete(ctx context.Context, id string, result json.RawMessage) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Complete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := time.Now()
	res := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", id, []entity.JobStatus{entity.JobStatusCompleted, entity.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":       entity.JobStatusCompleted,
			"progress":     100,
			"result":       result,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to complete job")
	}
	if res.RowsAffected == 0 {
		return r.terminalOrMissing(ctx, id)
	}
	return nil
}

// Requeue 失败重排队：retry_count+1、progress 归零、记录错误
func (r *JobRepository) Requeue(ctx context.Context, id string, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Requeue")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", id, []entity.JobStatus{entity.JobStatusCompleted, entity.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":        entity.JobStatusQueued,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"progress":      0,
			"error_message": errMsg,
			"started_at":    nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to requeue job")
	}
	if res.RowsAffected == 0 {
		return r.terminalOrMissing(ctx, id)
	}
	return nil
}

// Release 将 in_progress 任务放回 queued，retry_count 保持不变
func (r *JobRepository) Release(ctx context.Context, id string, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Release")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status = ?", id, entity.JobStatusInProgress).
		Updates(map[string]interface{}{
			"status":        entity.JobStatusQueued,
			"progress":      0,
			"error_message": errMsg,
			"started_at":    nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to release job")
	}
	if res.RowsAffected == 0 {
		job, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
		}
		// 已在队列里视为幂等成功
		if job.Status == entity.JobStatusQueued {
			return nil
		}
		return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	return nil
}

// Fail 置为终态 failed
func (r *JobRepository) Fail(ctx context.Context, id string, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Fail")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := time.Now()
	res := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", id, []entity.JobStatus{entity.JobStatusCompleted, entity.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":        entity.JobStatusFailed,
			"error_message": errMsg,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to fail job")
	}
	if res.RowsAffected == 0 {
		return r.terminalOrMissing(ctx, id)
	}
	return nil
}

// CancelQueued 取消仍在排队的任务
func (r *JobRepository) CancelQueued(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.CancelQueued")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := time.Now()
	res := db.Model(&entity.GenerationJob{}).
		Where("id = ? AND status = ?", id, entity.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":        entity.JobStatusFailed,
			"error_message": "canceled by caller",
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to cancel job")
	}
	if res.RowsAffected == 0 {
		job, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
		}
		return apperrors.ErrJobNotQueued.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	return nil
}

// terminalOrMissing 区分"已终态"与"不存在"
func (r *JobRepository) terminalOrMissing(ctx context.Context, id string) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
}

// ListByNovel 获取小说任务列表
func (r *JobRepository) ListByNovel(ctx context.Context, novelID string, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.GenerationJob], error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListByNovel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.GenerationJob{}).Where("novel_id = ?", novelID)

	if filter != nil {
		if filter.JobType != "" {
			query = query.Where("job_type = ?", filter.JobType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to count jobs")
	}

	var jobs []*entity.GenerationJob
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list jobs")
	}

	return repository.NewPagedResult(jobs, total, pagination), nil
}

// Cleanup 删除过期的终态任务
func (r *JobRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Cleanup")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Where("status IN ? AND updated_at < ?",
		[]entity.JobStatus{entity.JobStatusCompleted, entity.JobStatusFailed}, cutoff).
		Delete(&entity.GenerationJob{})
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, apperrors.Wrap(res.Error, apperrors.CodeStorageError, "failed to cleanup jobs")
	}
	return res.RowsAffected, nil
}

// ListNonTerminal 获取全部非终态任务
func (r *JobRepository) ListNonTerminal(ctx context.Context) ([]*entity.GenerationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListNonTerminal")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var jobs []*entity.GenerationJob
	if err := db.Where("status IN ?",
		[]entity.JobStatus{entity.JobStatusQueued, entity.JobStatusInProgress}).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list non-terminal jobs")
	}
	return jobs, nil
}
