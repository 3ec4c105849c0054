package generation

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// BackoffPolicy 指数退避策略,用于 LLM 调用重试间隔计算。
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay 计算第 attempt 次重试前的等待时长(attempt 从 0 开始)。
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	backoff := p.Initial
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.Max {
			backoff = p.Max
			break
		}
	}
	if backoff > p.Max {
		backoff = p.Max
	}
	return backoff
}

// IsRetryableLLMError 判断 LLM 调用错误是否值得重试。
// 限流、服务端错误、网络抖动和超时视为瞬时故障;
// 鉴权失败、参数非法等客户端错误直接放弃。
func IsRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) || isServerError(err) || isNetworkError(err) {
		return true
	}
	return false
}

// IsRateLimitError 判断是否为限流错误。
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return true
	case strings.Contains(msg, "rate_limit"):
		return true
	case strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "status code: 429"):
		return true
	case strings.Contains(msg, "429"):
		return true
	default:
		return false
	}
}

func isServerError(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "internal server error"):
		return true
	case strings.Contains(msg, "service unavailable"):
		return true
	case strings.Contains(msg, "bad gateway"):
		return true
	case strings.Contains(msg, "status code: 500"),
		strings.Contains(msg, "status code: 502"),
		strings.Contains(msg, "status code: 503"),
		strings.Contains(msg, "status code: 504"):
		return true
	case strings.Contains(msg, "overloaded"):
		return true
	default:
		return false
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return true
	case strings.Contains(msg, "connection reset"):
		return true
	case strings.Contains(msg, "timeout"):
		return true
	case strings.Contains(msg, "timed out"):
		return true
	case strings.Contains(msg, "eof"):
		return true
	case strings.Contains(msg, "no such host"):
		return true
	default:
		return false
	}
}
