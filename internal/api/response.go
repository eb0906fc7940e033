package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvstudio/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// FromError 把引擎返回的哨兵错误映射为 HTTP 响应；
// 未识别的错误按系统错误处理，对外只暴露 fallback 文案。
func FromError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, errcode.ErrNotFound):
		NotFound(c, "resource not found")
	case errors.Is(err, errcode.ErrConflict):
		Conflict(c, err.Error())
	case errors.Is(err, errcode.ErrValidation):
		BadRequest(c, err.Error())
	default:
		Internal(c, fallback)
	}
}
