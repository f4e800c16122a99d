package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
)

// httpStatuser is implemented by every error kind apperr constructs;
// ErrorHandler renders whatever status/code/message it carries rather
// than guessing from the gin error type.
type httpStatuser interface {
	error
	HTTPStatus() int
}

// ErrorHandler renders the last handler-reported error as spec §6's
// envelope: {"code":"err_*","message":"..."}. Errors that didn't pass
// through apperr are a programming mistake, not a classified failure,
// so they render as err_internal without echoing internal detail.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var status int
		var code, message string
		if ae, ok := err.(httpStatuser); ok {
			status = ae.HTTPStatus()
			message = err.Error()
			code = errCode(err)
		} else {
			status = http.StatusInternalServerError
			code = "err_internal"
			message = "internal error"
		}

		logger.Error("request error",
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Error(err),
		)

		c.JSON(status, gin.H{"code": code, "message": message})
	}
}

func errCode(err error) string {
	if ae, ok := err.(*apperr.Error); ok {
		return ae.Code
	}
	if fe, ok := err.(*apperr.ForbiddenError); ok {
		return fe.Code
	}
	return "err_internal"
}
