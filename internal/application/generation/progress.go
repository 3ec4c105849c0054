package generation

import (
	"sync"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/domain/entity"
)

const subscriberBuffer = 16

// ProgressEvent 任务进度事件。
type ProgressEvent struct {
	JobID     string           `json:"job_id"`
	JobType   entity.JobType   `json:"job_type"`
	Status    entity.JobStatus `json:"status"`
	Progress  int              `json:"progress"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Terminal 事件对应的任务状态是否终态。
func (e ProgressEvent) Terminal() bool {
	return e.Status.IsTerminal()
}

type progressTopic struct {
	subs       map[chan ProgressEvent]struct{}
	last       *ProgressEvent
	lastActive time.Time
	closed     bool
}

// ProgressHub 进程内进度广播中心。
// 按任务 ID 维护订阅者集合与最近一次事件,终态事件会关闭所有订阅通道。
// 仅对本进程生效;跨进程的进度查询走任务存储快照。
type ProgressHub struct {
	mu          sync.Mutex
	topics      map[string]*progressTopic
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewProgressHub 创建广播中心并启动空闲清理协程。
func NewProgressHub(idleTimeout time.Duration) *ProgressHub {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	h := &ProgressHub{
		topics:      make(map[string]*progressTopic),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	go h.janitor()
	return h
}

// Publish 广播一条进度事件。慢订阅者的事件会被丢弃而不是阻塞发布方。
func (h *ProgressHub) Publish(event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[event.JobID]
	if !ok {
		t = &progressTopic{subs: make(map[chan ProgressEvent]struct{})}
		h.topics[event.JobID] = t
	}
	if t.closed {
		return
	}
	t.last = &event
	t.lastActive = time.Now()

	for ch := range t.subs {
		select {
		case ch <- event:
		default:
		}
	}

	if event.Terminal() {
		t.closed = true
		for ch := range t.subs {
			close(ch)
		}
		t.subs = make(map[chan ProgressEvent]struct{})
	}
}

// Subscribe 订阅某任务的进度事件,若已有最近事件会立即重放一次。
// 返回的取消函数幂等,订阅结束后必须调用。
func (h *ProgressHub) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	t, ok := h.topics[jobID]
	if !ok {
		t = &progressTopic{subs: make(map[chan ProgressEvent]struct{})}
		h.topics[jobID] = t
	}
	if t.last != nil {
		ch <- *t.last
	}
	if t.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	t.subs[ch] = struct{}{}
	t.lastActive = time.Now()
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if t, ok := h.topics[jobID]; ok {
				if _, live := t.subs[ch]; live {
					delete(t.subs, ch)
					close(ch)
				}
			}
		})
	}
	return ch, cancel
}

// Snapshot 返回某任务的最近事件,没有则返回 nil。
func (h *ProgressHub) Snapshot(jobID string) *ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok || t.last == nil {
		return nil
	}
	e := *t.last
	return &e
}

// Close 停止清理协程并关闭所有订阅。
func (h *ProgressHub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.topics {
		for ch := range t.subs {
			close(ch)
		}
		delete(h.topics, id)
	}
}

func (h *ProgressHub) janitor() {
	interval := h.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.evictIdle(time.Now())
		}
	}
}

func (h *ProgressHub) evictIdle(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.topics {
		if len(t.subs) > 0 {
			continue
		}
		if now.Sub(t.lastActive) >= h.idleTimeout {
			delete(h.topics, id)
		}
	}
}
