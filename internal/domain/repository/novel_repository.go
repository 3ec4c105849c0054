// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

// NovelRepository 小说项目仓储接口
type NovelRepository interface {
	// Create 创建小说项目
	Create(ctx context.Context, novel *entity.Novel) error

	// GetByID 根据 ID 获取小说，未找到时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.Novel, error)

	// Update 更新小说（大纲、状态等）
	Update(ctx context.Context, novel *entity.Novel) error

	// List 获取小说列表，created_at 降序
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.Novel], error)

	// AppendChapter 追加已完成章节；同一 (novel_id, chapter_number) 只存在一份
	AppendChapter(ctx context.Context, chapter *entity.Chapter) error

	// GetChapter 获取指定章节，未找到时返回 (nil, nil)
	GetChapter(ctx context.Context, novelID string, number int) (*entity.Chapter, error)

	// ListChapters 获取小说全部章节，chapter_number 升序
	ListChapters(ctx context.Context, novelID string) ([]*entity.Chapter, error)
}
