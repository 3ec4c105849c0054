// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

// NovelRepository 小说仓储实现
type NovelRepository struct {
	client *Client
}

// NewNovelRepository 创建小说仓储
func NewNovelRepository(client *Client) *NovelRepository {
	return &NovelRepository{client: client}
}

// Create 创建小说项目
func (r *NovelRepository) Create(ctx context.Context, novel *entity.Novel) error {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(novel).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to create novel")
	}
	return nil
}

// GetByID 根据 ID 获取小说
func (r *NovelRepository) GetByID(ctx context.Context, id string) (*entity.Novel, error) {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var novel entity.Novel
	if err := db.First(&novel, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get novel")
	}
	return &novel, nil
}

// Update 更新小说
func (r *NovelRepository) Update(ctx context.Context, novel *entity.Novel) error {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(novel).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to update novel")
	}
	return nil
}

// List 获取小说列表
func (r *NovelRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Novel], error) {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Novel{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to count novels")
	}

	var novels []*entity.Novel
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&novels).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list novels")
	}

	return repository.NewPagedResult(novels, total, pagination), nil
}

// AppendChapter 追加章节；重复追加同一章号时就地更新内容并递增重生成计数
func (r *NovelRepository) AppendChapter(ctx context.Context, chapter *entity.Chapter) error {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.AppendChapter")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "novel_id"}, {Name: "chapter_number"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"content":            chapter.Content,
			"word_count":         chapter.WordCount,
			"was_regenerated":    true,
			"regeneration_count": gorm.Expr("chapters.regeneration_count + 1"),
			"metadata":           chapter.Metadata,
			"updated_at":         chapter.UpdatedAt,
		}),
	}).Create(chapter).Error
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to append chapter")
	}
	return nil
}

// GetChapter 获取指定章节
func (r *NovelRepository) GetChapter(ctx context.Context, novelID string, number int) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.GetChapter")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var chapter entity.Chapter
	if err := db.First(&chapter, "novel_id = ? AND chapter_number = ?", novelID, number).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get chapter")
	}
	return &chapter, nil
}

// ListChapters 获取小说全部章节，章号升序
func (r *NovelRepository) ListChapters(ctx context.Context, novelID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.NovelRepository.ListChapters")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var chapters []*entity.Chapter
	if err := db.Where("novel_id = ?", novelID).
		Order("chapter_number ASC").
		Find(&chapters).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list chapters")
	}
	return chapters, nil
}
