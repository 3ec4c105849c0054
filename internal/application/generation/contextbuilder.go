package generation

import (
	"strings"
	"unicode/utf8"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

const summaryMaxChars = 400

// ContextBuilder 把已完成章节压缩成续写上下文。
// 最近几章保留全文,更早的章节做抽取式摘要,整体受词数预算约束。
type ContextBuilder struct {
	// WordCap 上下文词数上限基数,实际预算取 min(WordCap, 2*目标词数)。
	WordCap int
	// FullTextChapters 保留全文的最近章节数。
	FullTextChapters int
}

// NewContextBuilder 创建上下文构建器。
func NewContextBuilder(wordCap, fullTextChapters int) *ContextBuilder {
	if wordCap <= 0 {
		wordCap = 3000
	}
	if fullTextChapters <= 0 {
		fullTextChapters = 2
	}
	return &ContextBuilder{WordCap: wordCap, FullTextChapters: fullTextChapters}
}

// Build 根据此前章节正文生成上下文文本,章节按时间顺序拼接。
// 预算从最新章节向旧章节分配,最新章节必定入选。
func (b *ContextBuilder) Build(previousChapters []string, targetWordCount int) string {
	if len(previousChapters) == 0 {
		return ""
	}

	budget := b.WordCap
	if targetWordCount > 0 && 2*targetWordCount < budget {
		budget = 2 * targetWordCount
	}

	segments := make([]string, 0, len(previousChapters))
	used := 0
	for i := len(previousChapters) - 1; i >= 0; i-- {
		text := strings.TrimSpace(previousChapters[i])
		if text == "" {
			continue
		}
		var segment string
		if i >= len(previousChapters)-b.FullTextChapters {
			segment = text
		} else {
			segment = summarizeChapter(text)
		}
		w := entity.CountWords(segment)
		if len(segments) > 0 && used+w > budget {
			break
		}
		segments = append(segments, segment)
		used += w
	}

	// segments 是从新到旧收集的,输出前翻转为时间顺序。
	for l, r := 0, len(segments)-1; l < r; l, r = l+1, r-1 {
		segments[l], segments[r] = segments[r], segments[l]
	}
	return strings.Join(segments, "\n\n")
}

// summarizeChapter 抽取式摘要:取首段、中段、末段拼接后截断。
func summarizeChapter(text string) string {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return ""
	}

	picked := make([]string, 0, 3)
	picked = append(picked, paras[0])
	if len(paras) > 2 {
		picked = append(picked, paras[len(paras)/2])
	}
	if len(paras) > 1 {
		picked = append(picked, paras[len(paras)-1])
	}

	summary := strings.Join(picked, "\n")
	return truncateByRunes(summary, summaryMaxChars)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

func truncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
