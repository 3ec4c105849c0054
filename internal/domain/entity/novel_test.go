package entity

import "testing"

func TestNovel_OutlineLifecycle(t *testing.T) {
	n := NewNovel("T", "premise", "fantasy", "epic", 3, 1600)
	if n.Status != NovelStatusSetup {
		t.Fatalf("new novel must be setup, got %s", n.Status)
	}
	if n.HasOutline() {
		t.Error("fresh novel has no outline")
	}

	n.SetOutline([]string{"one", "two", "three"})
	if n.Status != NovelStatusOutline {
		t.Errorf("expected outline status, got %s", n.Status)
	}
	if !n.HasOutline() {
		t.Error("outline with matching chapter count must count as complete")
	}

	n.ResetToSetup()
	if n.Status != NovelStatusSetup {
		t.Errorf("expected setup after reset, got %s", n.Status)
	}
	if len(n.Outline) != 0 {
		t.Error("reset must clear the outline")
	}
}

func TestNovel_HasOutlineRequiresExactCount(t *testing.T) {
	n := NewNovel("T", "premise", "fantasy", "", 3, 1600)
	n.SetOutline([]string{"one", "two"})
	if n.HasOutline() {
		t.Error("partial outline must not count as complete")
	}
}

func TestChapter_SetContent(t *testing.T) {
	ch := NewChapter("novel-1", 1, "one two three")
	if ch.WordCount != 3 {
		t.Errorf("expected 3 words, got %d", ch.WordCount)
	}

	ch.SetContent("one two three four five")
	if ch.WordCount != 5 {
		t.Errorf("expected 5 words after update, got %d", ch.WordCount)
	}
}

func TestCountWords(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"hello", 1},
		{"hello world", 2},
		{"  spaced   out\ttabs\nand newlines  ", 5},
	}
	for _, c := range cases {
		if got := CountWords(c.text); got != c.want {
			t.Errorf("CountWords(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
