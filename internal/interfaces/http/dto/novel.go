// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

// CreateNovelRequest 创建小说请求
type CreateNovelRequest struct {
	Title           string `json:"title" binding:"required,max=200"`
	Premise         string `json:"premise" binding:"required"`
	Genre           string `json:"genre" binding:"required,max=50"`
	Subgenre        string `json:"subgenre" binding:"max=50"`
	ChapterCount    int    `json:"chapter_count" binding:"required,min=1,max=60"`
	TargetWordCount int    `json:"target_word_count" binding:"required,min=100"`
}

// NovelResponse 小说响应
type NovelResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Premise         string    `json:"premise"`
	Genre           string    `json:"genre"`
	Subgenre        string    `json:"subgenre,omitempty"`
	ChapterCount    int       `json:"chapter_count"`
	TargetWordCount int       `json:"target_word_count"`
	Outline         []string  `json:"outline,omitempty"`
	Status          string    `json:"status"`
	ChaptersDone    int       `json:"chapters_done"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NovelListResponse 小说列表响应
type NovelListResponse struct {
	Novels []*NovelResponse `json:"novels"`
}

// ChapterResponse 章节响应
type ChapterResponse struct {
	ChapterNumber     int       `json:"chapter_number"`
	Content           string    `json:"content"`
	WordCount         int       `json:"word_count"`
	WasRegenerated    bool      `json:"was_regenerated"`
	RegenerationCount int       `json:"regeneration_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ChapterListResponse 章节列表响应
type ChapterListResponse struct {
	Chapters []*ChapterResponse `json:"chapters"`
}

// ToNovelResponse 将领域实体转换为响应 DTO
func ToNovelResponse(n *entity.Novel, chaptersDone int) *NovelResponse {
	if n == nil {
		return nil
	}
	return &NovelResponse{
		ID:              n.ID,
		Title:           n.Title,
		Premise:         n.Premise,
		Genre:           n.Genre,
		Subgenre:        n.Subgenre,
		ChapterCount:    n.ChapterCount,
		TargetWordCount: n.TargetWordCount,
		Outline:         []string(n.Outline),
		Status:          string(n.Status),
		ChaptersDone:    chaptersDone,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

// ToChapterResponse 将章节实体转换为响应 DTO
func ToChapterResponse(c *entity.Chapter) *ChapterResponse {
	if c == nil {
		return nil
	}
	return &ChapterResponse{
		ChapterNumber:     c.ChapterNumber,
		Content:           c.Content,
		WordCount:         c.WordCount,
		WasRegenerated:    c.WasRegenerated,
		RegenerationCount: c.RegenerationCount,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}
