package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/repository"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
)

// fakeJobRepo 内存版任务仓储,行为对齐 postgres 实现:
// 按创建顺序认领、终态拒绝覆盖、进度单调。
type fakeJobRepo struct {
	mu    sync.Mutex
	jobs  map[string]*entity.GenerationJob
	order []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*entity.GenerationJob)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *entity.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	r.order = append(r.order, job.ID)
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) ClaimNext(_ context.Context) (*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		job := r.jobs[id]
		if job == nil || job.Status != entity.JobStatusQueued {
			continue
		}
		job.Start()
		cp := *job
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeJobRepo) UpdateProgress(_ context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != entity.JobStatusInProgress {
		return nil
	}
	if progress > job.Progress {
		job.Progress = progress
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeJobRepo) Complete(_ context.Context, id string, result json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	job.Complete(result)
	return nil
}

func (r *fakeJobRepo) Requeue(_ context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	job.Requeue(errMsg)
	return nil
}

func (r *fakeJobRepo) Release(_ context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	if job.Status == entity.JobStatusQueued {
		return nil
	}
	if job.Status != entity.JobStatusInProgress {
		return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	job.Release(errMsg)
	return nil
}

func (r *fakeJobRepo) Fail(_ context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrJobTerminal.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	job.Fail(errMsg)
	return nil
}

func (r *fakeJobRepo) CancelQueued(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound.WithDetail(fmt.Sprintf("job %s", id))
	}
	if job.Status != entity.JobStatusQueued {
		return apperrors.ErrJobNotQueued.WithDetail(fmt.Sprintf("job %s status %s", id, job.Status))
	}
	job.Fail("canceled by caller")
	return nil
}

func (r *fakeJobRepo) ListByNovel(_ context.Context, novelID string, filter *repository.JobFilter, _ repository.Pagination) (*repository.PagedResult[*entity.GenerationJob], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*entity.GenerationJob
	for i := len(r.order) - 1; i >= 0; i-- {
		job := r.jobs[r.order[i]]
		if job == nil || job.NovelID != novelID {
			continue
		}
		if filter != nil {
			if filter.JobType != "" && job.JobType != filter.JobType {
				continue
			}
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
		}
		cp := *job
		items = append(items, &cp)
	}
	return &repository.PagedResult[*entity.GenerationJob]{Items: items, Total: int64(len(items))}, nil
}

func (r *fakeJobRepo) Cleanup(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	kept := r.order[:0]
	for _, id := range r.order {
		job := r.jobs[id]
		if job != nil && job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return deleted, nil
}

func (r *fakeJobRepo) ListNonTerminal(_ context.Context) ([]*entity.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []*entity.GenerationJob
	for _, id := range r.order {
		job := r.jobs[id]
		if job == nil || job.Status.IsTerminal() {
			continue
		}
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs, nil
}

// mutate 直接修改存储中的任务,用于构造测试前置状态。
func (r *fakeJobRepo) mutate(id string, fn func(*entity.GenerationJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		fn(job)
	}
}

type chapterKey struct {
	novelID string
	number  int
}

// fakeNovelRepo 内存版小说仓储。
type fakeNovelRepo struct {
	mu       sync.Mutex
	novels   map[string]*entity.Novel
	chapters map[chapterKey]*entity.Chapter
}

func newFakeNovelRepo() *fakeNovelRepo {
	return &fakeNovelRepo{
		novels:   make(map[string]*entity.Novel),
		chapters: make(map[chapterKey]*entity.Chapter),
	}
}

func (r *fakeNovelRepo) Create(_ context.Context, novel *entity.Novel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *novel
	r.novels[novel.ID] = &cp
	return nil
}

func (r *fakeNovelRepo) GetByID(_ context.Context, id string) (*entity.Novel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	novel, ok := r.novels[id]
	if !ok {
		return nil, nil
	}
	cp := *novel
	return &cp, nil
}

func (r *fakeNovelRepo) Update(_ context.Context, novel *entity.Novel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *novel
	r.novels[novel.ID] = &cp
	return nil
}

func (r *fakeNovelRepo) List(_ context.Context, _ repository.Pagination) (*repository.PagedResult[*entity.Novel], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*entity.Novel
	for _, n := range r.novels {
		cp := *n
		items = append(items, &cp)
	}
	return &repository.PagedResult[*entity.Novel]{Items: items, Total: int64(len(items))}, nil
}

func (r *fakeNovelRepo) AppendChapter(_ context.Context, chapter *entity.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *chapter
	r.chapters[chapterKey{chapter.NovelID, chapter.ChapterNumber}] = &cp
	return nil
}

func (r *fakeNovelRepo) GetChapter(_ context.Context, novelID string, number int) (*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chapters[chapterKey{novelID, number}]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (r *fakeNovelRepo) ListChapters(_ context.Context, novelID string) ([]*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Chapter
	for number := 1; ; number++ {
		ch, ok := r.chapters[chapterKey{novelID, number}]
		if !ok {
			break
		}
		cp := *ch
		out = append(out, &cp)
	}
	return out, nil
}

// stubModelCall 一次脚本化调用:返回文本或错误。
type stubModelCall struct {
	text string
	err  error
}

// stubChatModel 按脚本依次响应的聊天模型。脚本耗尽后报错。
type stubChatModel struct {
	mu    sync.Mutex
	calls []stubModelCall
	seen  [][]*schema.Message
}

func (m *stubChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, input)
	if len(m.calls) == 0 {
		return nil, fmt.Errorf("stub model script exhausted")
	}
	call := m.calls[0]
	m.calls = m.calls[1:]
	if call.err != nil {
		return nil, call.err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: call.text,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 20},
		},
	}, nil
}

func (m *stubChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not supported")
}

func (m *stubChatModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type stubFactory struct {
	model model.BaseChatModel
}

func (f *stubFactory) Get(_ context.Context, _ string) (model.BaseChatModel, error) {
	return f.model, nil
}

func (f *stubFactory) Default(_ context.Context) (model.BaseChatModel, error) {
	return f.model, nil
}

// newStubClient 创建不真正休眠的测试客户端。
func newStubClient(m *stubChatModel, maxRetries int) *Client {
	c := NewClient(&stubFactory{model: m}, "", time.Minute, maxRetries,
		BackoffPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

// words 生成恰好 n 个词的文本,分段以便摘要逻辑可用。
func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			if i%60 == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "word%d", i)
	}
	return b.String()
}

func outlineJSON(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("%q", fmt.Sprintf("Chapter %d: events unfold and stakes escalate.", i+1))
	}
	return "[" + strings.Join(items, ",") + "]"
}
