package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

// genreInstructions 各类型小说的写作指引,纯静态数据。
var genreInstructions = map[string]string{
	"fantasy":         "Build a coherent secondary world with consistent magic rules. Ground wonder in sensory detail and let worldbuilding emerge through character experience rather than exposition.",
	"science_fiction": "Extrapolate technology and society from a plausible premise. Keep the science internally consistent and let its consequences drive both plot and character conflict.",
	"mystery":         "Plant fair clues alongside misleading ones. Every revelation must be earned, and the reader should be able to reconstruct the solution in hindsight.",
	"thriller":        "Maintain relentless forward momentum. End chapters on tension or reversal, keep stakes personal and escalating, and make the antagonist capable.",
	"romance":         "Center the emotional arc between the leads. Obstacles must come from character, not contrivance, and intimacy should deepen in believable increments.",
	"horror":          "Build dread through atmosphere and restraint. Show just enough to make the reader's imagination do the worst work, and make the threat violate a clear rule of normalcy.",
	"historical":      "Anchor events in period-accurate texture: speech, customs, material culture. Let historical constraints shape what characters can and cannot do.",
	"literary":        "Prioritize interiority and precise language. Conflict may be quiet, but every scene must shift the protagonist's understanding of self or world.",
}

var subgenreInstructions = map[string]string{
	"epic":          "Span multiple viewpoints and a continent-scale conflict, but keep each chapter anchored to one character's immediate stakes.",
	"urban":         "Blend the speculative element into a recognizable modern city. The mundane world must push back against the hidden one.",
	"cozy":          "Keep violence offstage and the community small. Charm and curiosity drive the story more than danger does.",
	"noir":          "Use a morally compromised protagonist and a corrupt setting. Style is terse, atmosphere is heavy, victories are partial.",
	"space_opera":   "Favor scale and adventure over hard rigor. Ships, factions and charismatic crews take precedence over equations.",
	"cyberpunk":     "High tech, low life. Corporations eclipse governments, bodies are negotiable, and the street finds its own uses for things.",
	"gothic":        "Let the setting itself menace: decaying houses, buried family sins, weather as mood. The past refuses to stay buried.",
	"psychological": "The unreliable interior is the battlefield. Doubt the narrator alongside the reader and tighten the ambiguity gradually.",
}

func instructionFor(genre, subgenre string) string {
	var parts []string
	if ins, ok := genreInstructions[normalizeGenre(genre)]; ok {
		parts = append(parts, ins)
	}
	if ins, ok := subgenreInstructions[normalizeGenre(subgenre)]; ok {
		parts = append(parts, ins)
	}
	return strings.Join(parts, " ")
}

func normalizeGenre(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

const outlineSystemPrompt = `You are a professional novel outliner. You produce tight, escalating chapter-by-chapter outlines. Respond with a JSON array of strings and nothing else: one string per chapter, each a 2-4 sentence summary of that chapter's events.`

// BuildOutlinePrompt 构造大纲生成的系统/用户提示词。
func BuildOutlinePrompt(p entity.OutlineJobParams) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a chapter-by-chapter outline for a %s novel", displayGenre(p.Genre, p.Subgenre))
	fmt.Fprintf(&b, " with exactly %d chapters.\n\n", p.ChapterCount)
	fmt.Fprintf(&b, "Premise:\n%s\n\n", strings.TrimSpace(p.Premise))
	if ins := instructionFor(p.Genre, p.Subgenre); ins != "" {
		fmt.Fprintf(&b, "Genre guidance: %s\n\n", ins)
	}
	fmt.Fprintf(&b, "Return a JSON array containing exactly %d strings, one summary per chapter, in order.", p.ChapterCount)
	return outlineSystemPrompt, b.String()
}

const chapterSystemPrompt = `You are a professional novelist drafting one chapter at a time. Write vivid, immersive prose in past tense. Maintain continuity with everything that came before. Output only the chapter text, with no headings, notes or commentary.`

// BuildChapterPrompt 构造章节生成的系统/用户提示词。
func BuildChapterPrompt(p entity.ChapterJobParams, context string) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write chapter %d of a %s novel.\n\n", p.ChapterNumber, displayGenre(p.Genre, p.Subgenre))
	fmt.Fprintf(&b, "Premise:\n%s\n\n", strings.TrimSpace(p.Premise))
	if outline := strings.TrimSpace(p.ChapterOutline); outline != "" {
		fmt.Fprintf(&b, "This chapter must cover:\n%s\n\n", outline)
	}
	if context != "" {
		fmt.Fprintf(&b, "Story so far (recent chapters verbatim, earlier chapters summarized):\n%s\n\n", context)
	}
	if ins := instructionFor(p.Genre, p.Subgenre); ins != "" {
		fmt.Fprintf(&b, "Genre guidance: %s\n\n", ins)
	}
	fmt.Fprintf(&b, "Target length: about %d words.", p.TargetWordCount)
	return chapterSystemPrompt, b.String()
}

const expansionSystemPrompt = `You are a professional novelist revising your own draft. Expand the given chapter without changing its events, characters or ending. Deepen scenes, add sensory detail and interiority. Output only the full revised chapter text.`

// BuildExpansionPrompt 构造章节扩写的系统/用户提示词。
func BuildExpansionPrompt(p entity.ChapterJobParams, current string) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "The following draft of chapter %d is too short. Expand it to about %d words while preserving every event and the chapter ending.\n\n", p.ChapterNumber, p.TargetWordCount)
	fmt.Fprintf(&b, "Current draft:\n%s", current)
	return expansionSystemPrompt, b.String()
}

func displayGenre(genre, subgenre string) string {
	g := strings.TrimSpace(genre)
	sg := strings.TrimSpace(subgenre)
	switch {
	case g != "" && sg != "":
		return sg + " " + g
	case g != "":
		return g
	default:
		return "fiction"
	}
}

// ParseOutline 从模型输出中解析章节摘要数组,并校验数量严格相等。
// 解析失败和数量不符都属于模型输出问题,调用方应按可重试失败处理。
func ParseOutline(raw string, wantChapters int) ([]string, error) {
	jsonText := extractJSONArray(raw)
	if strings.TrimSpace(jsonText) == "" {
		return nil, apperrors.New(apperrors.CodeOutlineParse, "empty outline output")
	}

	var summaries []string
	if err := json.Unmarshal([]byte(jsonText), &summaries); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeOutlineParse, "outline output is not a json string array")
	}

	cleaned := make([]string, 0, len(summaries))
	for _, s := range summaries {
		s = strings.TrimSpace(s)
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) != wantChapters {
		return nil, apperrors.New(apperrors.CodeOutlineCount,
			fmt.Sprintf("outline count mismatch: want %d chapters, got %d", wantChapters, len(cleaned)))
	}
	return cleaned, nil
}

// extractJSONArray 从夹杂多余文本的模型输出中截取第一个完整 JSON 数组。
func extractJSONArray(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	raw = raw[start : end+1]

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return ""
	}
	return raw
}
