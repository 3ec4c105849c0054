package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/infrastructure/persistence/redis"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/dto"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
)

const novelCacheTTL = 30 * time.Second

// NovelHandler 小说处理器
type NovelHandler struct {
	novelRepo repository.NovelRepository
	cache     *redis.Cache
}

// NewNovelHandler 创建小说处理器。cache 可为 nil。
func NewNovelHandler(novelRepo repository.NovelRepository, cache *redis.Cache) *NovelHandler {
	return &NovelHandler{
		novelRepo: novelRepo,
		cache:     cache,
	}
}

// CreateNovel 创建小说项目
// @Summary 创建小说项目
// @Tags Novels
// @Accept json
// @Produce json
// @Param request body dto.CreateNovelRequest true "创建参数"
// @Success 201 {object} dto.Response[dto.NovelResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/novels [post]
func (h *NovelHandler) CreateNovel(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateNovelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	novel := entity.NewNovel(req.Title, req.Premise, req.Genre, req.Subgenre, req.ChapterCount, req.TargetWordCount)
	if err := h.novelRepo.Create(ctx, novel); err != nil {
		respondError(ctx, c, err, "failed to create novel")
		return
	}

	logger.Info(ctx, "novel created", string(logger.NovelIDKey), novel.ID)
	dto.Created(c, dto.ToNovelResponse(novel, 0))
}

// GetNovel 获取小说详情
// @Summary 获取小说详情
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.NovelResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid} [get]
func (h *NovelHandler) GetNovel(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)

	resp, err := h.loadNovel(c, novelID)
	if err != nil {
		respondError(ctx, c, err, "failed to get novel")
		return
	}
	if resp == nil {
		dto.NotFound(c, "novel not found")
		return
	}
	dto.Success(c, resp)
}

// loadNovel 读取小说详情,命中缓存时直接反序列化返回。
func (h *NovelHandler) loadNovel(c *gin.Context, novelID string) (*dto.NovelResponse, error) {
	ctx := c.Request.Context()

	build := func() (*dto.NovelResponse, error) {
		novel, err := h.novelRepo.GetByID(ctx, novelID)
		if err != nil {
			return nil, err
		}
		if novel == nil {
			return nil, nil
		}
		chapters, err := h.novelRepo.ListChapters(ctx, novelID)
		if err != nil {
			return nil, err
		}
		return dto.ToNovelResponse(novel, len(chapters)), nil
	}

	if h.cache == nil {
		return build()
	}

	raw, err := h.cache.GetOrLoadSafe(ctx, redis.NovelKey(novelID), novelCacheTTL, func() (interface{}, error) {
		resp, err := build()
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		return resp, nil
	})
	if err != nil {
		// 缓存故障时退化为直读存储。
		logger.Warn(ctx, "novel cache lookup failed, falling back", "error", err.Error())
		return build()
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var resp dto.NovelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return build()
	}
	return &resp, nil
}

// ListNovels 获取小说列表
// @Summary 获取小说列表
// @Tags Novels
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.NovelListResponse]
// @Router /v1/novels [get]
func (h *NovelHandler) ListNovels(c *gin.Context) {
	ctx := c.Request.Context()
	page := dto.BindPage(c)

	result, err := h.novelRepo.List(ctx, repository.NewPagination(page.Page, page.PageSize))
	if err != nil {
		respondError(ctx, c, err, "failed to list novels")
		return
	}

	novels := make([]*dto.NovelResponse, 0, len(result.Items))
	for _, n := range result.Items {
		novels = append(novels, dto.ToNovelResponse(n, 0))
	}
	dto.SuccessWithPage(c, &dto.NovelListResponse{Novels: novels},
		dto.NewPageMeta(page.Page, page.PageSize, int(result.Total)))
}

// ListChapters 获取小说全部章节
// @Summary 获取小说全部章节
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.ChapterListResponse]
// @Router /v1/novels/{nid}/chapters [get]
func (h *NovelHandler) ListChapters(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)

	chapters, err := h.novelRepo.ListChapters(ctx, novelID)
	if err != nil {
		respondError(ctx, c, err, "failed to list chapters")
		return
	}

	out := make([]*dto.ChapterResponse, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, dto.ToChapterResponse(ch))
	}
	dto.Success(c, &dto.ChapterListResponse{Chapters: out})
}

// GetChapter 获取指定章节
// @Summary 获取指定章节
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Param num path int true "章节号"
// @Success 200 {object} dto.Response[dto.ChapterResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/chapters/{num} [get]
func (h *NovelHandler) GetChapter(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)
	number := dto.BindChapterNumber(c)
	if number < 1 {
		dto.BadRequest(c, "invalid chapter number")
		return
	}

	chapter, err := h.novelRepo.GetChapter(ctx, novelID, number)
	if err != nil {
		respondError(ctx, c, err, "failed to get chapter")
		return
	}
	if chapter == nil {
		dto.NotFound(c, "chapter not found")
		return
	}
	dto.Success(c, dto.ToChapterResponse(chapter))
}
