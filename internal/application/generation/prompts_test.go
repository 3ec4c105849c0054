package generation

import (
	"strings"
	"testing"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

func TestParseOutline_PlainArray(t *testing.T) {
	raw := `["Chapter one summary.", "Chapter two summary.", "Chapter three summary."]`
	outline, err := ParseOutline(raw, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outline) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(outline))
	}
	if outline[0] != "Chapter one summary." {
		t.Errorf("unexpected first summary: %q", outline[0])
	}
}

func TestParseOutline_StripsCodeFence(t *testing.T) {
	raw := "Here is the outline:\n```json\n[\"One.\", \"Two.\"]\n```\nHope it helps!"
	outline, err := ParseOutline(raw, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outline) != 2 || outline[1] != "Two." {
		t.Errorf("unexpected outline: %v", outline)
	}
}

func TestParseOutline_CountMismatch(t *testing.T) {
	raw := `["One.", "Two.", "Three.", "Four.", "Five."]`
	_, err := ParseOutline(raw, 7)
	if err == nil {
		t.Fatal("expected count mismatch error")
	}
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeOutlineCount {
		t.Errorf("expected CodeOutlineCount, got %v", err)
	}
	if !strings.Contains(err.Error(), "want 7") || !strings.Contains(err.Error(), "got 5") {
		t.Errorf("expected counts in message, got %q", err.Error())
	}
}

func TestParseOutline_DropsBlankEntries(t *testing.T) {
	raw := `["One.", "  ", "Two."]`
	outline, err := ParseOutline(raw, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outline) != 2 {
		t.Errorf("expected blanks dropped, got %v", outline)
	}
}

func TestParseOutline_NotAnArray(t *testing.T) {
	for _, raw := range []string{
		"",
		"Sorry, I cannot produce an outline.",
		`[1, 2, 3]`,
	} {
		_, err := ParseOutline(raw, 3)
		if err == nil {
			t.Errorf("expected parse error for %q", raw)
			continue
		}
		appErr := apperrors.AsAppError(err)
		if appErr == nil || appErr.Code != apperrors.CodeOutlineParse {
			t.Errorf("expected CodeOutlineParse for %q, got %v", raw, err)
		}
	}
}

func TestBuildOutlinePrompt(t *testing.T) {
	system, user := BuildOutlinePrompt(entity.OutlineJobParams{
		Premise:      "A heist goes wrong in a flooded city.",
		Genre:        "thriller",
		ChapterCount: 12,
	})
	if !strings.Contains(system, "JSON array") {
		t.Error("system prompt must demand a JSON array")
	}
	if !strings.Contains(user, "exactly 12 chapters") {
		t.Errorf("user prompt must pin the chapter count: %q", user)
	}
	if !strings.Contains(user, "A heist goes wrong") {
		t.Error("user prompt must carry the premise")
	}
	if !strings.Contains(user, "momentum") {
		t.Error("expected thriller genre guidance in prompt")
	}
}

func TestBuildChapterPrompt(t *testing.T) {
	params := entity.ChapterJobParams{
		ChapterNumber:   4,
		Premise:         "A heist goes wrong in a flooded city.",
		ChapterOutline:  "The crew regroups at the drowned cathedral.",
		TargetWordCount: 1600,
		Genre:           "thriller",
		Subgenre:        "noir",
	}
	_, user := BuildChapterPrompt(params, "Previously the crew lost the map.")

	if !strings.Contains(user, "chapter 4") {
		t.Error("prompt must name the chapter number")
	}
	if !strings.Contains(user, "noir thriller") {
		t.Errorf("expected subgenre-qualified genre, got %q", user)
	}
	if !strings.Contains(user, "drowned cathedral") {
		t.Error("prompt must carry the chapter outline")
	}
	if !strings.Contains(user, "Previously the crew lost the map.") {
		t.Error("prompt must carry the story context")
	}
	if !strings.Contains(user, "about 1600 words") {
		t.Error("prompt must state the target length")
	}

	// 无上下文时不渲染该小节。
	_, noCtx := BuildChapterPrompt(params, "")
	if strings.Contains(noCtx, "Story so far") {
		t.Error("context section must be omitted when empty")
	}
}

func TestBuildExpansionPrompt(t *testing.T) {
	params := entity.ChapterJobParams{ChapterNumber: 2, TargetWordCount: 1600}
	system, user := BuildExpansionPrompt(params, "Short draft text.")
	if !strings.Contains(system, "Expand") {
		t.Error("system prompt must instruct expansion")
	}
	if !strings.Contains(user, "Short draft text.") {
		t.Error("user prompt must include the current draft")
	}
	if !strings.Contains(user, "1600 words") {
		t.Error("user prompt must state the target")
	}
}

func TestDisplayGenre(t *testing.T) {
	if got := displayGenre("fantasy", "epic"); got != "epic fantasy" {
		t.Errorf("expected epic fantasy, got %q", got)
	}
	if got := displayGenre("mystery", ""); got != "mystery" {
		t.Errorf("expected mystery, got %q", got)
	}
	if got := displayGenre("", ""); got != "fiction" {
		t.Errorf("expected fiction fallback, got %q", got)
	}
}
