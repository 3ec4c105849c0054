// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// NovelStatus 小说状态
// 状态机：setup -> outline -> drafting -> completed；大纲失败或显式重置回到 setup
type NovelStatus string

const (
	NovelStatusSetup     NovelStatus = "setup"
	NovelStatusOutline   NovelStatus = "outline"
	NovelStatusDrafting  NovelStatus = "drafting"
	NovelStatusCompleted NovelStatus = "completed"
)

// Novel 小说项目实体
type Novel struct {
	ID              string         `json:"id" gorm:"type:uuid;primaryKey"`
	Title           string         `json:"title" gorm:"type:varchar(255);not null"`
	Premise         string         `json:"premise" gorm:"type:text;not null"`
	Genre           string         `json:"genre" gorm:"type:varchar(100);not null"`
	Subgenre        string         `json:"subgenre,omitempty" gorm:"type:varchar(100)"`
	ChapterCount    int            `json:"chapter_count" gorm:"not null"`
	TargetWordCount int            `json:"target_word_count" gorm:"not null"`
	Outline         pq.StringArray `json:"outline,omitempty" gorm:"type:text[]"`
	Status          NovelStatus    `json:"status" gorm:"type:varchar(50);default:'setup'"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Novel) TableName() string {
	return "novels"
}

// NewNovel 创建新小说项目
func NewNovel(title, premise, genre, subgenre string, chapterCount, targetWordCount int) *Novel {
	now := time.Now()
	return &Novel{
		ID:              uuid.NewString(),
		Title:           title,
		Premise:         premise,
		Genre:           genre,
		Subgenre:        subgenre,
		ChapterCount:    chapterCount,
		TargetWordCount: targetWordCount,
		Status:          NovelStatusSetup,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// SetOutline 写入大纲并推进到 outline 状态
func (n *Novel) SetOutline(outline []string) {
	n.Outline = pq.StringArray(outline)
	n.Status = NovelStatusOutline
	n.UpdatedAt = time.Now()
}

// ResetToSetup 回退到 setup（大纲生成失败时）
func (n *Novel) ResetToSetup() {
	n.Outline = nil
	n.Status = NovelStatusSetup
	n.UpdatedAt = time.Now()
}

// HasOutline 检查大纲是否已生成
func (n *Novel) HasOutline() bool {
	return len(n.Outline) == n.ChapterCount && n.ChapterCount > 0
}

// Chapter 已完成的章节
// 只追加，不删除；重生成只就地更新内容并递增 RegenerationCount
type Chapter struct {
	ID                string              `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID           string              `json:"novel_id" gorm:"type:uuid;index:idx_novel_chapter,unique;not null"`
	ChapterNumber     int                 `json:"chapter_number" gorm:"index:idx_novel_chapter,unique;not null"`
	Content           string              `json:"content" gorm:"type:text"`
	WordCount         int                 `json:"word_count" gorm:"default:0"`
	WasRegenerated    bool                `json:"was_regenerated" gorm:"default:false"`
	RegenerationCount int                 `json:"regeneration_count" gorm:"default:0"`
	Metadata          *GenerationMetadata `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt         time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// GenerationMetadata 生成元数据，token 数为该章全部调用(含扩写)的累计值
type GenerationMetadata struct {
	Provider         string `json:"provider,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	GeneratedAt      string `json:"generated_at,omitempty"`
}

// NewChapter 创建章节
func NewChapter(novelID string, number int, content string) *Chapter {
	now := time.Now()
	return &Chapter{
		ID:            uuid.NewString(),
		NovelID:       novelID,
		ChapterNumber: number,
		Content:       content,
		WordCount:     CountWords(content),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetContent 设置章节内容并重算词数
func (c *Chapter) SetContent(content string) {
	c.Content = content
	c.WordCount = CountWords(content)
	c.UpdatedAt = time.Now()
}

// CountWords 按空白切分统计英文词数
func CountWords(s string) int {
	return len(strings.Fields(s))
}
