package handler

import (
	"github.com/gin-gonic/gin"
	"youth-mis/internal/apperr"
	"youth-mis/internal/logger"
	"youth-mis/internal/wire"
)

func writeError(c *gin.Context, log *logger.Logger, err error) {
	status, body := wire.ErrorFrom(err)
	if apperr.KindOf(err) == apperr.KindInternal && log != nil {
		log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, op, message string) {
	writeError(c, nil, apperr.New(apperr.KindValidation, op, message))
}
