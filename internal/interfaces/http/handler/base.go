// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/interfaces/http/dto"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/errors"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
)

// respondError 统一错误出口:AppError 按映射好的状态码返回,
// 其余错误记日志并返回 500。
func respondError(ctx context.Context, c *gin.Context, err error, fallbackMsg string) {
	if appErr := errors.AsAppError(err); appErr != nil {
		dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, appErr.Detail)
		return
	}
	logger.Error(ctx, fallbackMsg, err)
	dto.InternalError(c, fallbackMsg)
}
