// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

// JobFilter 任务过滤条件
type JobFilter struct {
	JobType entity.JobType
	Status  entity.JobStatus
}

// JobRepository 生成任务仓储接口
// ClaimNext 是系统中唯一的并发控制原语；其余按 id 键控的写操作均可幂等重放。
type JobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *entity.GenerationJob) error

	// GetByID 根据 ID 获取任务，未找到时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.GenerationJob, error)

	// ClaimNext 原子认领最老的 queued 任务（created_at 升序）并置为
	// in_progress。无可认领任务时返回 (nil, nil)。
	// 两个并发调用方绝不会认领到同一任务。重试额度是否耗尽由失败路径
	// 判定，认领不做额度过滤。
	ClaimNext(ctx context.Context) (*entity.GenerationJob, error)

	// UpdateProgress 单调更新任务进度（0-100），不改变状态
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Complete 置为 completed 并写入结果；任务已处于终态时拒绝
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Requeue 失败重排队：retry_count+1、progress 归零、记录错误
	Requeue(ctx context.Context, id string, errMsg string) error

	// Release 将 in_progress 任务放回 queued，不消耗重试额度。
	// 用于回收执行方崩溃留下的孤儿任务；任务不在 in_progress 状态时拒绝
	Release(ctx context.Context, id string, errMsg string) error

	// Fail 置为终态 failed；任务已处于终态时拒绝
	Fail(ctx context.Context, id string, errMsg string) error

	// CancelQueued 取消仍在排队的任务；任务不存在或已离开 queued 状态时拒绝
	CancelQueued(ctx context.Context, id string) error

	// ListByNovel 获取小说任务列表，created_at 降序
	ListByNovel(ctx context.Context, novelID string, filter *JobFilter, pagination Pagination) (*PagedResult[*entity.GenerationJob], error)

	// Cleanup 删除 updated_at 早于 cutoff 的终态任务，返回删除数量
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)

	// ListNonTerminal 获取全部非终态任务（reconcile 用）
	ListNonTerminal(ctx context.Context) ([]*entity.GenerationJob, error)
}
