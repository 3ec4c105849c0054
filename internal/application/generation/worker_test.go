package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

type workerFixture struct {
	jobs   *fakeJobRepo
	novels *fakeNovelRepo
	model  *stubChatModel
	queue  *JobQueue
	worker *Worker
}

func newWorkerFixture(calls ...stubModelCall) *workerFixture {
	jobs := newFakeJobRepo()
	novels := newFakeNovelRepo()
	model := &stubChatModel{calls: calls}
	queue := NewJobQueue(jobs, nil, nil, 3, time.Hour)
	client := newStubClient(model, 0)
	worker := NewWorker(queue, jobs, novels, nil, client,
		NewContextBuilder(3000, 2), NewLengthPolicy(300, 0.75), nil,
		WorkerConfig{PollInterval: 10 * time.Millisecond, ChapterAttempts: 3, ExpansionRetries: 2})
	return &workerFixture{jobs: jobs, novels: novels, model: model, queue: queue, worker: worker}
}

func (f *workerFixture) createNovel(t *testing.T, chapters, target int) *entity.Novel {
	t.Helper()
	novel := entity.NewNovel("The Drowned Lamp", "A lighthouse keeper discovers the lamp powers something beneath the sea.", "fantasy", "", chapters, target)
	if err := f.novels.Create(context.Background(), novel); err != nil {
		t.Fatalf("create novel: %v", err)
	}
	return novel
}

func (f *workerFixture) outlineParams(novel *entity.Novel) entity.OutlineJobParams {
	return entity.OutlineJobParams{
		Premise:      novel.Premise,
		Genre:        novel.Genre,
		Subgenre:     novel.Subgenre,
		ChapterCount: novel.ChapterCount,
	}
}

func (f *workerFixture) chapterParams(novel *entity.Novel, number int, outline string) entity.ChapterJobParams {
	return entity.ChapterJobParams{
		ChapterNumber:   number,
		Premise:         novel.Premise,
		ChapterOutline:  outline,
		TargetWordCount: novel.TargetWordCount,
		Genre:           novel.Genre,
		Subgenre:        novel.Subgenre,
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	f := newWorkerFixture()
	res, err := f.worker.ProcessNextJob(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result on empty queue, got %+v", res)
	}
}

func TestWorker_OutlineJob(t *testing.T) {
	f := newWorkerFixture(stubModelCall{text: outlineJSON(3)})
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	job, err := f.queue.EnqueueOutline(ctx, novel.ID, f.outlineParams(novel))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", res.Status, res.Error)
	}

	stored, _ := f.jobs.GetByID(ctx, job.ID)
	if stored.Progress != 100 {
		t.Errorf("expected progress 100, got %d", stored.Progress)
	}
	var result entity.OutlineJobResult
	if err := json.Unmarshal(stored.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Outline) != 3 {
		t.Errorf("expected 3 outline entries, got %d", len(result.Outline))
	}

	updated, _ := f.novels.GetByID(ctx, novel.ID)
	if updated.Status != entity.NovelStatusOutline {
		t.Errorf("expected novel status outline, got %s", updated.Status)
	}
	if !updated.HasOutline() {
		t.Error("expected outline persisted on novel")
	}
}

func TestWorker_OutlineCountMismatchRequeued(t *testing.T) {
	f := newWorkerFixture(stubModelCall{text: outlineJSON(5)})
	novel := f.createNovel(t, 7, 1600)
	ctx := context.Background()

	job, _ := f.queue.EnqueueOutline(ctx, novel.ID, f.outlineParams(novel))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusQueued {
		t.Fatalf("expected requeue on count mismatch, got %s", res.Status)
	}
	if !strings.Contains(res.Error, "want 7") {
		t.Errorf("expected count mismatch in error, got %q", res.Error)
	}

	stored, _ := f.jobs.GetByID(ctx, job.ID)
	if stored.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", stored.RetryCount)
	}
	if stored.Progress != 0 {
		t.Errorf("expected progress reset on requeue, got %d", stored.Progress)
	}

	updated, _ := f.novels.GetByID(ctx, novel.ID)
	if updated.HasOutline() {
		t.Error("novel must not gain an outline from a rejected response")
	}
}

func TestWorker_InvalidPayloadFailsTerminally(t *testing.T) {
	f := newWorkerFixture()
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	// 小说已持有大纲,验证失败后会被回退。
	stored, _ := f.novels.GetByID(ctx, novel.ID)
	stored.SetOutline([]string{"a", "b", "c"})
	_ = f.novels.Update(ctx, stored)

	job := entity.NewGenerationJob(novel.ID, entity.JobTypeOutlineGeneration, json.RawMessage(`{"premise":""}`), 3)
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusFailed {
		t.Fatalf("expected terminal failure, got %s", res.Status)
	}

	after, _ := f.jobs.GetByID(ctx, job.ID)
	if after.RetryCount != 0 {
		t.Errorf("invalid payload must not consume retries, got %d", after.RetryCount)
	}

	updated, _ := f.novels.GetByID(ctx, novel.ID)
	if updated.Status != entity.NovelStatusSetup {
		t.Errorf("expected novel reset to setup after outline failure, got %s", updated.Status)
	}
	if len(updated.Outline) != 0 {
		t.Error("expected outline cleared on reset")
	}
}

func TestWorker_UnknownJobTypeFailsTerminally(t *testing.T) {
	f := newWorkerFixture()
	ctx := context.Background()

	job := entity.NewGenerationJob("novel-1", entity.JobType("bogus"), json.RawMessage(`{}`), 3)
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
}

func TestWorker_ChapterJobMissingNovelFailsTerminally(t *testing.T) {
	f := newWorkerFixture()
	ctx := context.Background()

	params := entity.ChapterJobParams{
		ChapterNumber:   1,
		Premise:         "p",
		ChapterOutline:  "o",
		TargetWordCount: 100,
		Genre:           "fantasy",
	}
	if _, err := f.queue.EnqueueChapter(ctx, "missing-novel", params); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusFailed {
		t.Errorf("expected terminal failure for missing novel, got %s", res.Status)
	}
}

func TestWorker_LLMFailureRequeues(t *testing.T) {
	f := newWorkerFixture(stubModelCall{err: fmt.Errorf("upstream returned status code: 503")})
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	job, _ := f.queue.EnqueueOutline(ctx, novel.ID, f.outlineParams(novel))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusQueued {
		t.Fatalf("expected requeue on transient llm failure, got %s", res.Status)
	}
	stored, _ := f.jobs.GetByID(ctx, job.ID)
	if stored.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", stored.RetryCount)
	}
}

func TestWorker_ChapterWithinBand(t *testing.T) {
	f := newWorkerFixture(stubModelCall{text: words(1600)})
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	job, _ := f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, 1, "The keeper descends."))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", res.Status, res.Error)
	}
	if f.model.callCount() != 1 {
		t.Errorf("in-band draft needs exactly 1 call, got %d", f.model.callCount())
	}

	ch, _ := f.novels.GetChapter(ctx, novel.ID, 1)
	if ch == nil {
		t.Fatal("chapter not persisted")
	}
	if ch.WordCount != 1600 {
		t.Errorf("expected 1600 words, got %d", ch.WordCount)
	}
	if ch.WasRegenerated || ch.RegenerationCount != 0 {
		t.Errorf("no regeneration expected: %+v", ch)
	}
	if ch.Metadata == nil {
		t.Fatal("generation metadata not persisted")
	}
	if ch.Metadata.PromptTokens != 10 || ch.Metadata.CompletionTokens != 20 {
		t.Errorf("expected single-call usage 10/20, got %d/%d",
			ch.Metadata.PromptTokens, ch.Metadata.CompletionTokens)
	}

	stored, _ := f.jobs.GetByID(ctx, job.ID)
	var result entity.ChapterJobResult
	if err := json.Unmarshal(stored.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ChapterNumber != 1 || result.WordCount != 1600 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestWorker_ShortChapterExpanded(t *testing.T) {
	f := newWorkerFixture(
		stubModelCall{text: words(500)},
		stubModelCall{text: words(1550)},
	)
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	_, _ = f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, 1, "The keeper descends."))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", res.Status, res.Error)
	}

	ch, _ := f.novels.GetChapter(ctx, novel.ID, 1)
	if ch.WordCount != 1550 {
		t.Errorf("expected expanded 1550 words, got %d", ch.WordCount)
	}
	if !ch.WasRegenerated || ch.RegenerationCount != 1 {
		t.Errorf("expected one expansion recorded, got count=%d", ch.RegenerationCount)
	}
}

func TestWorker_ExpansionBudgetExhaustedKeepsLongest(t *testing.T) {
	f := newWorkerFixture(
		stubModelCall{text: words(500)},
		stubModelCall{text: words(700)},
		stubModelCall{text: words(600)},
	)
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	_, _ = f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, 1, "The keeper descends."))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// 扩写额度用尽后保留最长一稿,偏短不判失败。
	if res.Status != entity.JobStatusCompleted {
		t.Fatalf("expected completed despite short draft, got %s (error %q)", res.Status, res.Error)
	}
	if f.model.callCount() != 3 {
		t.Errorf("expected 1 draft + 2 expansions, got %d calls", f.model.callCount())
	}

	ch, _ := f.novels.GetChapter(ctx, novel.ID, 1)
	if ch.WordCount != 700 {
		t.Errorf("expected longest version kept (700), got %d", ch.WordCount)
	}
	if ch.RegenerationCount != 2 {
		t.Errorf("expected 2 expansions recorded, got %d", ch.RegenerationCount)
	}
	// token 用量累计全部三次调用,不只保留稿那一次
	if ch.Metadata == nil || ch.Metadata.PromptTokens != 30 || ch.Metadata.CompletionTokens != 60 {
		t.Errorf("expected accumulated usage 30/60, got %+v", ch.Metadata)
	}
}

func TestWorker_HopelessDraftRegeneratedFromScratch(t *testing.T) {
	f := newWorkerFixture(
		stubModelCall{text: words(300)},
		stubModelCall{text: words(1300)},
	)
	novel := f.createNovel(t, 3, 1600)
	ctx := context.Background()

	_, _ = f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, 1, "The keeper descends."))

	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != entity.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", res.Status, res.Error)
	}
	if f.model.callCount() != 2 {
		t.Errorf("expected a full regeneration, got %d calls", f.model.callCount())
	}

	ch, _ := f.novels.GetChapter(ctx, novel.ID, 1)
	if ch.WordCount != 1300 {
		t.Errorf("expected the regenerated 1300-word draft, got %d", ch.WordCount)
	}
}

func TestWorker_ChapterPromptCarriesPreviousChapters(t *testing.T) {
	distinctive := strings.TrimSpace(strings.Repeat("sharkfin ", 40))
	f := newWorkerFixture(stubModelCall{text: words(40)})
	novel := f.createNovel(t, 3, 40)
	ctx := context.Background()

	if err := f.novels.AppendChapter(ctx, entity.NewChapter(novel.ID, 1, distinctive)); err != nil {
		t.Fatalf("seed chapter: %v", err)
	}

	_, _ = f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, 2, "The keeper returns."))
	if _, err := f.worker.ProcessNextJob(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	f.model.mu.Lock()
	defer f.model.mu.Unlock()
	if len(f.model.seen) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(f.model.seen))
	}
	var userContent string
	for _, msg := range f.model.seen[0] {
		if msg.Role == "user" {
			userContent = msg.Content
		}
	}
	if !strings.Contains(userContent, "sharkfin") {
		t.Error("expected previous chapter content in the prompt")
	}
}

func TestWorker_NovelLifecycleToCompletion(t *testing.T) {
	const chapterCount = 3
	const target = 40

	f := newWorkerFixture(
		stubModelCall{text: outlineJSON(chapterCount)},
		stubModelCall{text: words(target)},
		stubModelCall{text: words(target)},
		stubModelCall{text: words(target)},
	)
	novel := f.createNovel(t, chapterCount, target)
	ctx := context.Background()

	if _, err := f.queue.EnqueueOutline(ctx, novel.ID, f.outlineParams(novel)); err != nil {
		t.Fatalf("enqueue outline: %v", err)
	}
	res, err := f.worker.ProcessNextJob(ctx)
	if err != nil || res == nil || res.Status != entity.JobStatusCompleted {
		t.Fatalf("outline job: res=%+v err=%v", res, err)
	}

	outlined, _ := f.novels.GetByID(ctx, novel.ID)
	if outlined.Status != entity.NovelStatusOutline {
		t.Fatalf("expected outline status, got %s", outlined.Status)
	}

	for n := 1; n <= chapterCount; n++ {
		if _, err := f.queue.EnqueueChapter(ctx, novel.ID, f.chapterParams(novel, n, outlined.Outline[n-1])); err != nil {
			t.Fatalf("enqueue chapter %d: %v", n, err)
		}
		res, err := f.worker.ProcessNextJob(ctx)
		if err != nil {
			t.Fatalf("chapter %d: %v", n, err)
		}
		if res.Status != entity.JobStatusCompleted {
			t.Fatalf("chapter %d: expected completed, got %s (error %q)", n, res.Status, res.Error)
		}

		current, _ := f.novels.GetByID(ctx, novel.ID)
		if n < chapterCount && current.Status != entity.NovelStatusDrafting {
			t.Errorf("after chapter %d: expected drafting, got %s", n, current.Status)
		}
	}

	final, _ := f.novels.GetByID(ctx, novel.ID)
	if final.Status != entity.NovelStatusCompleted {
		t.Errorf("expected completed novel, got %s", final.Status)
	}

	chapters, _ := f.novels.ListChapters(ctx, novel.ID)
	if len(chapters) != chapterCount {
		t.Fatalf("expected %d chapters, got %d", chapterCount, len(chapters))
	}
	for i, ch := range chapters {
		if ch.ChapterNumber != i+1 {
			t.Errorf("chapter %d out of order: number %d", i, ch.ChapterNumber)
		}
		if ch.WordCount != target {
			t.Errorf("chapter %d: expected %d words, got %d", ch.ChapterNumber, target, ch.WordCount)
		}
	}
}
