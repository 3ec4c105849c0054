package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	obseino "github.com/TheAccidentalTeacher/NovGen-sub000/internal/observability/eino"
	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/metrics"
)

// ChatModelFactory 按名称提供聊天模型实例。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
	Default(ctx context.Context) (model.BaseChatModel, error)
}

// GenerateRequest 一次文本生成调用的输入。
type GenerateRequest struct {
	System      string
	User        string
	Temperature *float32
	MaxTokens   *int
}

// GenerateResult 一次文本生成调用的输出。
type GenerateResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Attempts         int
}

// Client LLM 调用适配器,封装超时、重试和指标上报。
// 上层只关心"给定提示词,返回文本",不感知具体提供商。
type Client struct {
	factory     ChatModelFactory
	provider    string
	callTimeout time.Duration
	maxRetries  int
	backoff     BackoffPolicy

	// sleep 可注入,测试时替换为立即返回的实现。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient 创建生成客户端。provider 为空时使用默认提供商。
func NewClient(factory ChatModelFactory, provider string, callTimeout time.Duration, maxRetries int, backoff BackoffPolicy) *Client {
	if callTimeout <= 0 {
		callTimeout = 120 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		factory:     factory,
		provider:    strings.TrimSpace(provider),
		callTimeout: callTimeout,
		maxRetries:  maxRetries,
		backoff:     backoff,
		sleep:       sleepCtx,
	}
}

// Generate 执行一次生成调用。kind 仅用于指标标签(outline/chapter/expansion)。
// 瞬时错误按退避策略重试,客户端错误立即返回。
func (c *Client) Generate(ctx context.Context, kind string, req GenerateRequest) (*GenerateResult, error) {
	if c == nil || c.factory == nil {
		return nil, apperrors.New(apperrors.CodeLLMCallFailed, "llm factory not configured")
	}

	ctx = obseino.WithWorkflow(ctx, kind)
	chatModel, err := c.resolveModel(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "failed to resolve chat model")
	}

	msgs := []*schema.Message{
		schema.SystemMessage(req.System),
		schema.UserMessage(req.User),
	}
	opts := make([]model.Option, 0, 2)
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			logger.Warn(ctx, "retrying llm call",
				"kind", kind,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			metrics.LLMRetriesTotal.Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "llm retry interrupted")
			}
		}

		result, err := c.callOnce(ctx, kind, chatModel, msgs, opts)
		if err == nil {
			result.Attempts = attempt + 1
			return result, nil
		}
		lastErr = err
		if !IsRetryableLLMError(err) {
			return nil, classifyLLMError(err)
		}
	}
	return nil, classifyLLMError(fmt.Errorf("llm call failed after %d attempts: %w", c.maxRetries+1, lastErr))
}

// Provider 返回配置的提供商名称，空值表示工厂默认。
func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) callOnce(ctx context.Context, kind string, chatModel model.BaseChatModel, msgs []*schema.Message, opts []model.Option) (*GenerateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	outMsg, err := chatModel.Generate(callCtx, msgs, opts...)
	if err != nil {
		metrics.ObserveLLMCall(kind, "error", start)
		return nil, err
	}
	if outMsg == nil || strings.TrimSpace(outMsg.Content) == "" {
		metrics.ObserveLLMCall(kind, "empty", start)
		return nil, fmt.Errorf("empty llm response")
	}
	metrics.ObserveLLMCall(kind, "success", start)

	result := &GenerateResult{Text: outMsg.Content}
	if outMsg.ResponseMeta != nil && outMsg.ResponseMeta.Usage != nil {
		result.PromptTokens = outMsg.ResponseMeta.Usage.PromptTokens
		result.CompletionTokens = outMsg.ResponseMeta.Usage.CompletionTokens
	}
	return result, nil
}

func (c *Client) resolveModel(ctx context.Context) (model.BaseChatModel, error) {
	if c.provider == "" {
		return c.factory.Default(ctx)
	}
	return c.factory.Get(ctx, c.provider)
}

func classifyLLMError(err error) error {
	switch {
	case IsRateLimitError(err):
		return apperrors.Wrap(err, apperrors.CodeLLMRateLimited, "llm provider rate limited")
	case isNetworkError(err):
		return apperrors.Wrap(err, apperrors.CodeLLMTimeout, "llm call timed out")
	default:
		return apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "llm call failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
