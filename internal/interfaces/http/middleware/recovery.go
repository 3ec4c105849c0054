// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"

	apperrors "github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
)

// Recovery Panic 恢复中间件。
// 连接已断开时只终止请求，不再尝试写响应。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%v", r)

				if isBrokenPipe(r) {
					logger.Warn(c.Request.Context(), "connection broken during request",
						"path", c.Request.URL.Path,
						"error", err.Error(),
					)
					c.Abort()
					return
				}

				logger.Error(c.Request.Context(), "panic recovered", err,
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    apperrors.CodeInternalError,
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}

// isBrokenPipe 判断 panic 是否源于客户端断开连接
func isBrokenPipe(r interface{}) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if !errors.As(opErr.Err, &sysErr) {
		return false
	}
	return errors.Is(sysErr.Err, syscall.EPIPE) || errors.Is(sysErr.Err, syscall.ECONNRESET)
}
