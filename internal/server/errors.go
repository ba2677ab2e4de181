package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hitomi/internal/api"
	"hitomi/internal/camera"
)

// statusOf はエラーをHTTPステータスに対応付ける
func statusOf(err error) int {
	var (
		validationErr *camera.ValidationError
		notFoundErr   *camera.NotFoundError
	)

	switch {
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// クライアントの切断かシャットダウン
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError はエラーを {success:false, message} として返す
func writeError(c *gin.Context, err error) {
	message := err.Error()
	if errors.Is(err, camera.ErrDeviceUnavailable) {
		message = camera.UnavailableMessage
	}

	c.AbortWithStatusJSON(statusOf(err), api.MessageResponse{
		Success: false,
		Message: message,
	})
}

// bindError はパラメータのバインドに失敗したときのエラーハンドラ
func bindError(c *gin.Context, err error, status int) {
	c.AbortWithStatusJSON(status, api.MessageResponse{
		Success: false,
		Message: err.Error(),
	})
}
